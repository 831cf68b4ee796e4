// Package cassandra adapts github.com/gocql/gocql into an
// ingest.Poll/ingest.Sink pair, grounded on whitaker-io/machine's
// components/cassandra Initium/Terminus.
package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/spf13/viper"
)

// NewPoll returns a Poll that pages through v's "query" against v's
// "hosts"/"keyspace", carrying the page-state cursor across calls so
// repeated polls advance rather than re-read the same page.
func NewPoll(v *viper.Viper) (func(ctx context.Context) ([]map[string]interface{}, error), error) {
	hosts := v.GetStringSlice("hosts")
	keyspace := v.GetString("keyspace")
	query := v.GetString("query")
	pageSize := v.GetInt("page_size")

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("ingest/cassandra: connecting: %w", err)
	}

	state := []byte{}
	return func(ctx context.Context) ([]map[string]interface{}, error) {
		it := session.Query(query).WithContext(ctx).PageSize(pageSize).PageState(state).Iter()
		out, err := it.SliceMap()
		state = it.PageState()
		if err != nil {
			return nil, fmt.Errorf("ingest/cassandra: query: %w", err)
		}
		return out, nil
	}, nil
}

// NewSink returns a Sink that executes v's "query" once per item, binding
// columns named in v's "keys" from each item in order.
func NewSink(v *viper.Viper) (func(ctx context.Context, items []map[string]interface{}) error, error) {
	hosts := v.GetStringSlice("hosts")
	keyspace := v.GetString("keyspace")
	query := v.GetString("query")
	keys := v.GetStringSlice("keys")

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("ingest/cassandra: connecting: %w", err)
	}

	return func(ctx context.Context, items []map[string]interface{}) error {
		var composite error
		for _, item := range items {
			values := make([]interface{}, 0, len(keys))
			for _, k := range keys {
				values = append(values, item[k])
			}
			if err := session.Query(query, values...).WithContext(ctx).Exec(); err != nil {
				if composite == nil {
					composite = err
				} else {
					composite = fmt.Errorf("%v; %w", err, composite)
				}
			}
		}
		return composite
	}, nil
}
