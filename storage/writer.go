package storage

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/molliey/taskboard/domain"
)

var bg = context.Background()

// Persister stores one applied event durably.
type Persister interface {
	PersistEvent(ctx context.Context, ev domain.Event) error
}

// WriterConfig tunes the asynchronous write path.
type WriterConfig struct {
	Workers        int
	Buffer         int
	PersistTimeout time.Duration
	HandoffTimeout time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

// Writer persists applied events asynchronously so the broadcast path
// never waits on storage or the pub/sub channel. Delivery is best-effort:
// the broadcast already happened on successful in-memory apply, and a full
// queue drops the event rather than blocking.
type Writer struct {
	persister Persister
	publisher *Publisher // optional
	cfg       WriterConfig

	jobs chan domain.Event
	wg   sync.WaitGroup
}

// NewWriter starts the worker pool. publisher may be nil.
func NewWriter(persister Persister, publisher *Publisher, cfg WriterConfig) *Writer {
	w := &Writer{
		persister: persister,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
	}
	w.jobs = make(chan domain.Event, w.cfg.Buffer)
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
	log.Infof("event writer started, workers: %d, buffer: %d", w.cfg.Workers, w.cfg.Buffer)
	return w
}

// Enqueue hands an applied event to the pool without blocking beyond the
// configured handoff timeout. It reports false when the event was dropped.
// Must not be called after Close.
func (w *Writer) Enqueue(ev domain.Event) bool {
	select {
	case w.jobs <- ev:
		return true
	default:
	}
	if w.cfg.HandoffTimeout == 0 {
		return false
	}
	timer := time.NewTimer(w.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case w.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting events and waits for in-flight persists.
func (w *Writer) Close() {
	close(w.jobs)
	w.wg.Wait()
}

func (w *Writer) worker(id int) {
	defer w.wg.Done()
	for ev := range w.jobs {
		ctx, cancel := context.WithTimeout(bg, w.cfg.PersistTimeout)
		if err := w.persister.PersistEvent(ctx, ev); err != nil {
			log.Errorf("persist failed, err: %v, type: %s, project: %s, seq: %d, worker: %d", err, ev.Type, ev.ProjectID, ev.Seq, id)
		}
		if w.publisher != nil {
			if err := w.publisher.Publish(ctx, ev); err != nil {
				log.Errorf("publish failed, err: %v, project: %s, seq: %d", err, ev.ProjectID, ev.Seq)
			}
		}
		cancel()
	}
}
