// Package queue defines the buffer between webhook receipt and worker-side
// ingestion.
package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// Publisher publishes raw events onto the queue.
type Publisher interface {
	PublishRawEvent(ctx context.Context, raw *domain.RawEvent) error
}

// Consumer reads and acknowledges queue messages.
type Consumer interface {
	ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)
	QueueURL() string
}
