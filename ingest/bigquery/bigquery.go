// Package bigquery adapts cloud.google.com/go/bigquery into an
// ingest.Poll/ingest.Sink pair, grounded on whitaker-io/machine's
// components/bigquery Initium/Terminus.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/spf13/viper"
	"google.golang.org/api/iterator"
)

type row map[string]interface{}

func (r row) Load(v []bigquery.Value, s bigquery.Schema) error {
	for i := 0; i < len(s); i++ {
		r[s[i].Name] = v[i]
	}
	return nil
}

func (r row) Save() (map[string]bigquery.Value, string, error) {
	out := map[string]bigquery.Value{}
	for k, v := range r {
		out[k] = v
	}
	return out, "", nil
}

// NewPoll returns a Poll that runs v's "query" against v's "project_id" on
// every call, reading back every row as a map[string]interface{}.
func NewPoll(v *viper.Viper) (func(ctx context.Context) ([]map[string]interface{}, error), error) {
	projectID := v.GetString("project_id")
	query := v.GetString("query")

	client, err := bigquery.NewClient(context.Background(), projectID)
	if err != nil {
		return nil, fmt.Errorf("ingest/bigquery: connecting: %w", err)
	}

	return func(ctx context.Context) ([]map[string]interface{}, error) {
		q := client.Query(query)
		it, err := q.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("ingest/bigquery: query: %w", err)
		}

		var out []map[string]interface{}
		for {
			r := row{}
			if err := it.Next(&r); err == iterator.Done {
				break
			} else if err != nil {
				return out, fmt.Errorf("ingest/bigquery: iterator: %w", err)
			}
			out = append(out, r)
		}
		return out, nil
	}, nil
}

// NewSink returns a Sink that inserts every item into v's "dataset"/"table".
func NewSink(v *viper.Viper) (func(ctx context.Context, items []map[string]interface{}) error, error) {
	projectID := v.GetString("project_id")
	dataset := v.GetString("dataset")
	tableName := v.GetString("table")

	client, err := bigquery.NewClient(context.Background(), projectID)
	if err != nil {
		return nil, fmt.Errorf("ingest/bigquery: connecting: %w", err)
	}

	table := client.Dataset(dataset).Table(tableName)

	return func(ctx context.Context, items []map[string]interface{}) error {
		var composite error
		for _, item := range items {
			if err := table.Inserter().Put(ctx, row(item)); err != nil {
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
