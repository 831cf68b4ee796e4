// Package http adapts github.com/gofiber/fiber/v2 into an ingest.Poll
// backed by a push endpoint, and a plain http.Client Sink, grounded on
// whitaker-io/machine's components/http Initium/Terminus.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
)

// NewPoll starts a fiber server listening on v's "port" for POSTs to v's
// "path" and returns a Poll that drains whatever arrived since the last
// call. Unlike the other ingest packages' NewPoll, this one starts its
// server eagerly: there is nothing to "poll" until a request has landed,
// so the returned function is really a non-blocking drain of a buffered
// channel the fiber handler feeds.
func NewPoll(v *viper.Viper) (func(ctx context.Context) ([]map[string]interface{}, error), error) {
	port := v.GetString("port")
	path := v.GetString("path")
	bodyLimit := v.GetInt("body_limit")

	received := make(chan map[string]interface{}, 256)

	s := fiber.New(fiber.Config{
		DisableKeepalive: true,
		BodyLimit:        bodyLimit,
		ServerHeader:     v.GetString("name"),
	})
	s.Post(path, func(c *fiber.Ctx) error {
		var item map[string]interface{}
		if err := json.Unmarshal(c.Body(), &item); err != nil {
			return c.SendStatus(http.StatusBadRequest)
		}
		received <- item
		return c.SendStatus(http.StatusOK)
	})

	go func() {
		if err := s.Listen(port); err != nil {
			fmt.Printf("ingest/http: server stopped: %v\n", err)
		}
	}()

	return func(ctx context.Context) ([]map[string]interface{}, error) {
		var out []map[string]interface{}
		for {
			select {
			case item := <-received:
				out = append(out, item)
			default:
				return out, nil
			}
		}
	}, nil
}

// NewSink returns a Sink that POSTs items as a JSON array to v's "host"
// with v's "timeout".
func NewSink(v *viper.Viper) func(ctx context.Context, items []map[string]interface{}) error {
	host := v.GetString("host")
	timeout := v.GetDuration("timeout")
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, items []map[string]interface{}) error {
		body, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("ingest/http: marshal: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("ingest/http: request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("ingest/http: do: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("ingest/http: unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}
