// Package journal batches lifecycle transitions and reschedules into an
// append-only store.
package journal

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/metrics"
)

// BatchWriter persists a batch, returning how many rows were new.
type BatchWriter interface {
	InsertTransitions(ctx context.Context, items []domain.Transition) (int64, error)
}

type Journal struct {
	queue        chan domain.Transition
	writer       BatchWriter
	batchMaxSize int
	batchMaxWait time.Duration
	metrics      *metrics.Collector
	log          zerolog.Logger
	done         chan struct{}
}

func New(writer BatchWriter, queueMaxSize, batchMaxSize int, batchMaxWait time.Duration, m *metrics.Collector) *Journal {
	return &Journal{
		queue:        make(chan domain.Transition, queueMaxSize),
		writer:       writer,
		batchMaxSize: batchMaxSize,
		batchMaxWait: batchMaxWait,
		metrics:      m,
		log:          logging.Component("journal"),
		done:         make(chan struct{}),
	}
}

func (j *Journal) WithLogger(l zerolog.Logger) *Journal {
	j.log = l
	return j
}

// Start runs the batching loop until ctx ends. The last batch is flushed
// with a short detached deadline; Done is closed afterwards.
func (j *Journal) Start(ctx context.Context) {
	go func() {
		defer close(j.done)
		batch := make([]domain.Transition, 0, j.batchMaxSize)
		t := time.NewTimer(j.batchMaxWait)
		defer t.Stop()

		resetTimer := func() {
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(j.batchMaxWait)
		}

		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				return
			}
			affected, err := j.writer.InsertTransitions(ctx, batch)
			if err != nil {
				j.metrics.JournalDropped(len(batch))
				j.log.Error().Err(err).Int("dropped", len(batch)).Msg("journal batch insert failed")
			} else {
				j.metrics.JournalWritten(affected)
				j.log.Debug().Int64("inserted", affected).Int("size", len(batch)).Msg("journal batch written")
			}
			batch = batch[:0]
		}

		for {
			select {
			case <-ctx.Done():
			drain:
				for {
					select {
					case tr := <-j.queue:
						batch = append(batch, tr)
					default:
						break drain
					}
				}
				fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				flush(fctx)
				cancel()
				return
			case tr := <-j.queue:
				batch = append(batch, tr)
				if len(batch) >= j.batchMaxSize {
					flush(ctx)
					resetTimer()
				}
			case <-t.C:
				flush(ctx)
				t.Reset(j.batchMaxWait)
			}
		}
	}()
}

// Record enqueues t without blocking. A full queue drops the entry.
func (j *Journal) Record(t domain.Transition) {
	if !j.Enqueue(t) {
		j.metrics.JournalDropped(1)
		j.log.Warn().Str("event", t.Key.String()).Msg("journal queue full, transition dropped")
	}
}

func (j *Journal) Enqueue(t domain.Transition) bool {
	select {
	case j.queue <- t:
		return true
	default:
		return false
	}
}

// Done is closed once the loop has exited and flushed.
func (j *Journal) Done() <-chan struct{} { return j.done }
