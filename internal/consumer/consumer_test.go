package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/ingest"
)

// MockQueueConsumer is a mock implementation of queue.Consumer
type MockQueueConsumer struct {
	mock.Mock
}

func (m *MockQueueConsumer) ReceiveMessages(ctx context.Context, input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

func (m *MockQueueConsumer) QueueURL() string {
	args := m.Called()
	return args.String(0)
}

// MockIngester is a mock implementation of EventIngester
type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) IngestEvent(ctx context.Context, raw domain.RawEvent) (*ingest.Result, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.Result), args.Error(1)
}

func TestJSONEventParser_Parse(t *testing.T) {
	parser := NewJSONEventParser()

	raw, err := parser.Parse([]byte(`{
		"tenant_id": "tn_1",
		"event": "purchase",
		"email": "jane@example.com",
		"transaction_id": "ord_1",
		"properties": {"total": "99.90"}
	}`))
	assert.NoError(t, err)
	assert.Equal(t, "tn_1", raw.TenantID)
	assert.Equal(t, "purchase", raw.Name)
	assert.Equal(t, "jane@example.com", raw.Email)
	assert.Equal(t, domain.SourceWebhook, raw.Source, "source defaults to webhook")
}

func TestJSONEventParser_Parse_Malformed(t *testing.T) {
	parser := NewJSONEventParser()

	_, err := parser.Parse([]byte(`not json`))
	assert.Error(t, err)

	_, err = parser.Parse([]byte(`{"event": "purchase"}`))
	assert.Error(t, err, "missing tenant id is malformed")

	_, err = parser.Parse([]byte(`{"tenant_id": "tn_1"}`))
	assert.Error(t, err, "missing event name is malformed")
}

func TestParserStage_Start_DeletesMalformedMessages(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	log := zap.NewNop()

	stage := NewParserStage(mockConsumer, NewJSONEventParser(), log)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/events")
	mockConsumer.On("DeleteMessage", mock.Anything, mock.AnythingOfType("*sqs.DeleteMessageInput")).
		Return(&sqs.DeleteMessageOutput{}, nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan types.Message, 2)
	out := make(chan *Envelope, 2)

	go stage.Start(ctx, in, out)

	in <- types.Message{
		MessageId:     aws.String("msg-bad"),
		ReceiptHandle: aws.String("rh-bad"),
		Body:          aws.String(`garbage`),
	}
	in <- types.Message{
		MessageId:     aws.String("msg-good"),
		ReceiptHandle: aws.String("rh-good"),
		Body:          aws.String(`{"tenant_id": "tn_1", "event": "purchase", "transaction_id": "ord_1"}`),
	}

	envelope := <-out
	assert.Equal(t, "tn_1", envelope.Raw.TenantID)
	assert.Equal(t, "purchase", envelope.Raw.Name)

	time.Sleep(20 * time.Millisecond)
	mockConsumer.AssertExpectations(t)
}

func TestProcessor_Start_AcksSuccess(t *testing.T) {
	mockIngester := new(MockIngester)
	log := zap.NewNop()

	processor := NewProcessor(mockIngester, log)

	mockIngester.On("IngestEvent", mock.Anything, mock.AnythingOfType("domain.RawEvent")).
		Return(&ingest.Result{}, nil).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	acked := false
	nacked := false
	envelope := NewEnvelope(&domain.RawEvent{TenantID: "tn_1", Name: "purchase"},
		func(context.Context) error { acked = true; return nil },
		func(context.Context) error { nacked = true; return nil })

	in := make(chan *Envelope, 1)
	in <- envelope

	go processor.Start(ctx, in)
	time.Sleep(50 * time.Millisecond)

	assert.True(t, acked)
	assert.False(t, nacked)
	mockIngester.AssertExpectations(t)
}

func TestProcessor_Start_AcksValidationRejection(t *testing.T) {
	mockIngester := new(MockIngester)
	log := zap.NewNop()

	processor := NewProcessor(mockIngester, log)

	mockIngester.On("IngestEvent", mock.Anything, mock.AnythingOfType("domain.RawEvent")).
		Return(nil, domain.Validationf("no identity fragments presented")).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	acked := false
	envelope := NewEnvelope(&domain.RawEvent{TenantID: "tn_1", Name: "purchase"},
		func(context.Context) error { acked = true; return nil },
		nil)

	in := make(chan *Envelope, 1)
	in <- envelope

	go processor.Start(ctx, in)
	time.Sleep(50 * time.Millisecond)

	assert.True(t, acked, "invalid events must be dropped, not redelivered")
	mockIngester.AssertExpectations(t)
}

func TestProcessor_Start_NacksTransientFailure(t *testing.T) {
	mockIngester := new(MockIngester)
	log := zap.NewNop()

	processor := NewProcessor(mockIngester, log)

	mockIngester.On("IngestEvent", mock.Anything, mock.AnythingOfType("domain.RawEvent")).
		Return(nil, errors.New("database is locked")).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	acked := false
	nacked := false
	envelope := NewEnvelope(&domain.RawEvent{TenantID: "tn_1", Name: "purchase"},
		func(context.Context) error { acked = true; return nil },
		func(context.Context) error { nacked = true; return nil })

	in := make(chan *Envelope, 1)
	in <- envelope

	go processor.Start(ctx, in)
	time.Sleep(50 * time.Millisecond)

	assert.False(t, acked)
	assert.True(t, nacked, "transient failures must stay on the queue")
	mockIngester.AssertExpectations(t)
}

func TestReceiver_Start_ForwardsMessages(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	log := zap.NewNop()

	receiver := NewReceiver(mockConsumer, ReceiverConfig{
		MaxMessages:     10,
		WaitTimeSeconds: 20,
		BufferSize:      100,
	}, log)

	mockConsumer.On("QueueURL").Return("https://sqs.eu-central-1.amazonaws.com/123/events")

	messages := []types.Message{
		{MessageId: aws.String("msg-1"), Body: aws.String(`{"tenant_id":"tn_1","event":"purchase"}`)},
		{MessageId: aws.String("msg-2"), Body: aws.String(`{"tenant_id":"tn_1","event":"add_to_cart"}`)},
	}
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&sqs.ReceiveMessageOutput{Messages: messages}, nil).Once()
	mockConsumer.On("ReceiveMessages", mock.Anything, mock.AnythingOfType("*sqs.ReceiveMessageInput")).
		Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{}}, nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := make(chan types.Message, 10)
	go receiver.Start(ctx, out)

	var received []types.Message
	timeout := time.After(200 * time.Millisecond)
	for len(received) < 2 {
		select {
		case msg, ok := <-out:
			if !ok {
				t.Fatal("channel closed before all messages arrived")
			}
			received = append(received, msg)
		case <-timeout:
			t.Fatal("timed out waiting for messages")
		}
	}

	assert.Equal(t, "msg-1", *received[0].MessageId)
	assert.Equal(t, "msg-2", *received[1].MessageId)
}

func TestReceiver_Start_ContextCancellation(t *testing.T) {
	mockConsumer := new(MockQueueConsumer)
	log := zap.NewNop()

	receiver := NewReceiver(mockConsumer, ReceiverConfig{
		MaxMessages:     10,
		WaitTimeSeconds: 20,
		BufferSize:      100,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan types.Message, 10)
	receiver.Start(ctx, out)

	_, ok := <-out
	assert.False(t, ok, "channel should be closed after context cancellation")
}
