// Package bigtable adapts cloud.google.com/go/bigtable into an
// ingest.Poll/ingest.Sink pair, grounded on whitaker-io/machine's
// components/bigtable Initium/Terminus.
package bigtable

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigtable"
	"github.com/spf13/viper"
)

// Filter decides whether a row should be included in a poll's result.
type Filter func(r bigtable.Row) bool

// NewPoll returns a Poll reading every row under v's "prefix_range" from
// v's "table" that passes keep, tagging each with its row key under
// "__key".
func NewPoll(v *viper.Viper, keep Filter) (func(ctx context.Context) ([]map[string]interface{}, error), error) {
	projectID := v.GetString("project_id")
	instance := v.GetString("instance")
	tableName := v.GetString("table")
	prefixRange := v.GetString("prefix_range")
	familyFilters := v.GetStringSlice("family_filters")

	client, err := bigtable.NewClient(context.Background(), projectID, instance)
	if err != nil {
		return nil, fmt.Errorf("ingest/bigtable: connecting: %w", err)
	}

	tbl := client.Open(tableName)
	rr := bigtable.PrefixRange(prefixRange)

	var opts []bigtable.ReadOption
	for _, f := range familyFilters {
		opts = append(opts, bigtable.RowFilter(bigtable.FamilyFilter(f)))
	}

	return func(ctx context.Context) ([]map[string]interface{}, error) {
		var out []map[string]interface{}
		err := tbl.ReadRows(ctx, rr, func(r bigtable.Row) bool {
			if !keep(r) {
				return true
			}
			m := map[string]interface{}{"__key": r.Key()}
			for fam, items := range r {
				m[fam] = items
			}
			out = append(out, m)
			return true
		}, opts...)
		if err != nil {
			return out, fmt.Errorf("ingest/bigtable: read rows: %w", err)
		}
		return out, nil
	}, nil
}

// Mutation builds the row keys and mutations to apply for a batch of
// items, the caller-supplied shape Terminus needs since Bigtable has no
// generic "insert a map" operation.
type Mutation func(items []map[string]interface{}) (rowKeys []string, muts []*bigtable.Mutation)

// NewSink returns a Sink that applies mutate's mutations against v's
// "table".
func NewSink(v *viper.Viper, mutate Mutation) (func(ctx context.Context, items []map[string]interface{}) error, error) {
	projectID := v.GetString("project_id")
	instance := v.GetString("instance")
	tableName := v.GetString("table")

	client, err := bigtable.NewClient(context.Background(), projectID, instance)
	if err != nil {
		return nil, fmt.Errorf("ingest/bigtable: connecting: %w", err)
	}
	tbl := client.Open(tableName)

	return func(ctx context.Context, items []map[string]interface{}) error {
		keys, muts := mutate(items)
		errs, err := tbl.ApplyBulk(ctx, keys, muts)
		if err != nil {
			return fmt.Errorf("ingest/bigtable: apply bulk: %w", err)
		}
		for _, e := range errs {
			if e != nil {
				return fmt.Errorf("ingest/bigtable: apply: %w", e)
			}
		}
		return nil
	}, nil
}
