// Package sqs adapts github.com/aws/aws-sdk-go's SQS client into an
// ingest.Poll/ingest.Sink pair, grounded on whitaker-io/machine's
// components/sqs Initium/Terminus.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// NewPoll returns a Poll that long-polls v's "queue_url" for up to v's
// "batch_size" messages per call and JSON-decodes each body.
func NewPoll(v *viper.Viper) (func(ctx context.Context) ([]map[string]interface{}, error), error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ingest/sqs: session: %w", err)
	}

	region := v.GetString("region")
	url := v.GetString("queue_url")
	visibilityTimeout := v.GetInt64("visibility_timeout")
	batchSize := v.GetInt64("batch_size")
	waitTimeSeconds := v.GetInt64("wait_time_seconds")

	svc := sqs.New(sess, aws.NewConfig().WithRegion(region))

	return func(ctx context.Context) ([]map[string]interface{}, error) {
		id := uuid.New().String()
		out, err := svc.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
			MaxNumberOfMessages:     &batchSize,
			QueueUrl:                &url,
			VisibilityTimeout:       &visibilityTimeout,
			WaitTimeSeconds:         &waitTimeSeconds,
			ReceiveRequestAttemptId: &id,
		})
		if err != nil {
			return nil, fmt.Errorf("ingest/sqs: receive: %w", err)
		}

		var items []map[string]interface{}
		for _, message := range out.Messages {
			var item map[string]interface{}
			if err := json.Unmarshal([]byte(*message.Body), &item); err == nil {
				items = append(items, item)
			}
			_, _ = svc.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      &url,
				ReceiptHandle: message.ReceiptHandle,
			})
		}
		return items, nil
	}, nil
}

// NewSink returns a Sink that JSON-encodes and sends each item to v's
// "queue_url".
func NewSink(v *viper.Viper) (func(ctx context.Context, items []map[string]interface{}) error, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ingest/sqs: session: %w", err)
	}

	region := v.GetString("region")
	url := v.GetString("queue_url")
	svc := sqs.New(sess, aws.NewConfig().WithRegion(region))

	return func(ctx context.Context, items []map[string]interface{}) error {
		for _, item := range items {
			body, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("ingest/sqs: marshal: %w", err)
			}
			bodyStr := string(body)
			if _, err := svc.SendMessageWithContext(ctx, &sqs.SendMessageInput{
				QueueUrl:    &url,
				MessageBody: &bodyStr,
			}); err != nil {
				return fmt.Errorf("ingest/sqs: send: %w", err)
			}
		}
		return nil
	}, nil
}
