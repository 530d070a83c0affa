// Package consumer is the worker-side pipeline draining the webhook queue
// into the ingestion service: receive, parse, process.
package consumer

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/config"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/queue"
)

// Consumer orchestrates the staged pipeline over queue messages.
type Consumer struct {
	receiver  *Receiver
	parser    *ParserStage
	processor *Processor
	buffer    int
}

// NewConsumer wires the pipeline stages.
func NewConsumer(cfg config.Consumer, queueConsumer queue.Consumer, ingester EventIngester, log *zap.Logger) *Consumer {
	receiver := NewReceiver(queueConsumer, ReceiverConfig{
		MaxMessages:     cfg.MaxMessages,
		WaitTimeSeconds: cfg.WaitTimeSeconds,
		BufferSize:      cfg.BufferSize,
	}, log)

	parser := NewParserStage(queueConsumer, NewJSONEventParser(), log)
	processor := NewProcessor(ingester, log)

	return &Consumer{
		receiver:  receiver,
		parser:    parser,
		processor: processor,
		buffer:    cfg.BufferSize,
	}
}

// Start runs the pipeline until the context ends. Stages shut down in order
// as their input channels close.
func (c *Consumer) Start(ctx context.Context) error {
	messageChan := make(chan types.Message, c.buffer)
	envelopeChan := make(chan *Envelope, c.buffer)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		c.receiver.Start(ctx, messageChan)
	}()

	go func() {
		defer wg.Done()
		c.parser.Start(ctx, messageChan, envelopeChan)
	}()

	go func() {
		defer wg.Done()
		c.processor.Start(ctx, envelopeChan)
	}()

	wg.Wait()
	return nil
}
