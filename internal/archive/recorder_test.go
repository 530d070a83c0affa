package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// captureArchive records every batch it receives.
type captureArchive struct {
	mu      sync.Mutex
	batches [][]*domain.Event
	err     error
}

func (c *captureArchive) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	batch := make([]*domain.Event, len(events))
	copy(batch, events)
	c.batches = append(c.batches, batch)
	return len(events), nil
}

func (c *captureArchive) InitSchema(ctx context.Context) error { return nil }
func (c *captureArchive) Ping(ctx context.Context) error       { return nil }
func (c *captureArchive) Close() error                         { return nil }
func (c *captureArchive) GetMetrics(ctx context.Context, query MetricsQuery) (*MetricsResult, error) {
	return &MetricsResult{}, nil
}

func (c *captureArchive) snapshot() [][]*domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]*domain.Event, len(c.batches))
	copy(out, c.batches)
	return out
}

func testEvent(id string) *domain.Event {
	return &domain.Event{
		ID:        id,
		TenantID:  "tn_1",
		Type:      domain.EventPageView,
		Name:      "page_view",
		EventTime: time.Now(),
	}
}

func TestRecorder_FlushesOnBatchSize(t *testing.T) {
	capture := &captureArchive{}
	recorder := NewRecorder(capture, RecorderConfig{
		MaxBatchSize: 2,
		FlushTimeout: time.Hour,
		BufferSize:   10,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recorder.Start(ctx)

	recorder.Record(testEvent("evt_1"))
	recorder.Record(testEvent("evt_2"))

	assert.Eventually(t, func() bool {
		return len(capture.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	batches := capture.snapshot()
	assert.Len(t, batches[0], 2)
	assert.Equal(t, "evt_1", batches[0][0].ID)
}

func TestRecorder_FlushesOnTimeout(t *testing.T) {
	capture := &captureArchive{}
	recorder := NewRecorder(capture, RecorderConfig{
		MaxBatchSize: 100,
		FlushTimeout: 20 * time.Millisecond,
		BufferSize:   10,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recorder.Start(ctx)

	recorder.Record(testEvent("evt_1"))

	assert.Eventually(t, func() bool {
		return len(capture.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, capture.snapshot()[0], 1)
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	capture := &captureArchive{}
	recorder := NewRecorder(capture, RecorderConfig{
		MaxBatchSize: 100,
		FlushTimeout: time.Hour,
		BufferSize:   10,
	}, zap.NewNop())

	recorder.Record(testEvent("evt_1"))
	recorder.Record(testEvent("evt_2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recorder.Start(ctx)

	batches := capture.snapshot()
	assert.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestRecorder_RecordNeverBlocks(t *testing.T) {
	capture := &captureArchive{}
	recorder := NewRecorder(capture, RecorderConfig{
		MaxBatchSize: 100,
		FlushTimeout: time.Hour,
		BufferSize:   2,
	}, zap.NewNop())

	// No Start loop running; the buffer fills and further records drop.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			recorder.Record(testEvent("evt"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
}

func TestRecorder_KeepsRunningAfterFlushError(t *testing.T) {
	capture := &captureArchive{err: errors.New("connection refused")}
	recorder := NewRecorder(capture, RecorderConfig{
		MaxBatchSize: 1,
		FlushTimeout: time.Hour,
		BufferSize:   10,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recorder.Start(ctx)

	recorder.Record(testEvent("evt_1"))
	time.Sleep(50 * time.Millisecond)

	capture.mu.Lock()
	capture.err = nil
	capture.mu.Unlock()

	recorder.Record(testEvent("evt_2"))
	assert.Eventually(t, func() bool {
		return len(capture.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "evt_2", capture.snapshot()[0][0].ID)
}
