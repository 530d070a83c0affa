package archive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
)

// RecorderConfig configures the write-behind buffer.
type RecorderConfig struct {
	MaxBatchSize int
	FlushTimeout time.Duration
	BufferSize   int
}

// Recorder buffers processed events and flushes them to the archive in
// batches. Record never blocks the ingestion path: when the buffer is full
// the event is dropped from the archive copy only, the operational store
// already has it.
type Recorder struct {
	archive EventArchive
	config  RecorderConfig
	in      chan *domain.Event
	log     *zap.Logger
}

// NewRecorder creates a recorder in front of the given archive.
func NewRecorder(archive EventArchive, config RecorderConfig, log *zap.Logger) *Recorder {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 100
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = 5 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	return &Recorder{
		archive: archive,
		config:  config,
		in:      make(chan *domain.Event, config.BufferSize),
		log:     log,
	}
}

// Record enqueues an event for archival.
func (r *Recorder) Record(ev *domain.Event) {
	select {
	case r.in <- ev:
	default:
		r.log.Warn("Archive buffer full, dropping event copy",
			zap.String("tenant_id", ev.TenantID),
			zap.String("event_id", ev.ID))
	}
}

// Start runs the flush loop until the context ends, then drains what is
// still buffered.
func (r *Recorder) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.FlushTimeout)
	defer ticker.Stop()

	batch := make([]*domain.Event, 0, r.config.MaxBatchSize)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Archive recorder shutting down")
			r.drain(batch)
			return

		case ev := <-r.in:
			batch = append(batch, ev)
			if len(batch) >= r.config.MaxBatchSize {
				r.flush(batch)
				batch = make([]*domain.Event, 0, r.config.MaxBatchSize)
				ticker.Reset(r.config.FlushTimeout)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]*domain.Event, 0, r.config.MaxBatchSize)
			}
		}
	}
}

// drain flushes the in-flight batch plus whatever is still queued.
func (r *Recorder) drain(batch []*domain.Event) {
	for {
		select {
		case ev := <-r.in:
			batch = append(batch, ev)
		default:
			r.flush(batch)
			return
		}
	}
}

// flush writes one batch. Failures are logged and the batch dropped; the
// operational store remains the source of truth.
func (r *Recorder) flush(batch []*domain.Event) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	inserted, err := r.archive.InsertBatch(ctx, batch)
	if err != nil {
		r.log.Error("Failed to flush archive batch",
			zap.Int("event_count", len(batch)),
			zap.Error(err))
		return
	}

	r.log.Debug("Archived events", zap.Int("count", inserted))
}
