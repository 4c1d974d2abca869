// Package realtime feeds database change events on watched tables into the
// analyzer. Each event runs on the task queue keyed by table and id, so
// events for one record are processed in order.
package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/taskqueue"
)

var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zappy",
	Subsystem: "realtime",
	Name:      "events_total",
	Help:      "Change events received, by table and whether they were dispatched.",
}, []string{"table", "dispatched"})

// Handler analyses the current state of a record.
type Handler interface {
	AnalyzeByID(ctx context.Context, table, id string) (*analyzer.Output, error)
}

type Config struct {
	Channel string
	Tables  []string
}

// Watcher owns at most one live subscription.
type Watcher struct {
	cfg     Config
	tables  map[string]bool
	source  Source
	handler Handler
	queue   *taskqueue.Queue
	log     zerolog.Logger

	mu     sync.Mutex
	root   context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, source Source, handler Handler, queue *taskqueue.Queue, log zerolog.Logger) *Watcher {
	if cfg.Channel == "" {
		cfg.Channel = "crm_changes"
	}
	if len(cfg.Tables) == 0 {
		for _, k := range analyzer.Kinds {
			cfg.Tables = append(cfg.Tables, string(k))
		}
	}
	tables := make(map[string]bool, len(cfg.Tables))
	for _, t := range cfg.Tables {
		tables[t] = true
	}
	return &Watcher{
		cfg:     cfg,
		tables:  tables,
		source:  source,
		handler: handler,
		queue:   queue,
		log:     log.With().Str("component", "realtime").Logger(),
	}
}

// Subscribe starts listening under ctx. Calling it while subscribed is a no-op,
// as is calling it on a watcher built without a source.
func (w *Watcher) Subscribe(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.root = ctx
	if w.cancel != nil || w.source == nil {
		return
	}
	w.startLocked()
}

// Dispatch queues analysis of a freshly written record as if its INSERT event
// had arrived. Writers use it when no change feed is running.
func (w *Watcher) Dispatch(ctx context.Context, table, id string) {
	w.dispatch(ctx, Event{Table: table, Op: "INSERT", ID: id})
}

// Resubscribe tears down the current subscription, waits for it to stop and
// starts a fresh one.
func (w *Watcher) Resubscribe() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	if w.source != nil {
		w.startLocked()
	}
}

// Subscribed reports whether a subscription is live.
func (w *Watcher) Subscribed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Close stops the subscription. Events already queued still run.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	return nil
}

func (w *Watcher) startLocked() {
	root := w.root
	if root == nil {
		root = context.Background()
	}
	ctx, cancel := context.WithCancel(root)
	done := make(chan struct{})
	w.cancel, w.done = cancel, done
	go w.loop(ctx, done)
	w.log.Info().Str("channel", w.cfg.Channel).Strs("tables", w.cfg.Tables).Msg("realtime watcher subscribed")
}

func (w *Watcher) stopLocked() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel, w.done = nil, nil
	w.log.Info().Msg("realtime watcher unsubscribed")
}

// loop keeps a Listen call running, reconnecting with backoff.
func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := w.source.Listen(ctx, w.cfg.Channel, func(ev Event) { w.dispatch(ctx, ev) })
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			b.Reset()
		}
		wait := b.NextBackOff()
		w.log.Warn().Err(err).Dur("retry_in", wait).Msg("change stream interrupted")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, ev Event) {
	op := strings.ToUpper(ev.Op)
	if !w.tables[ev.Table] || ev.ID == "" || (op != "INSERT" && op != "UPDATE") {
		eventsReceived.WithLabelValues(ev.Table, "false").Inc()
		return
	}
	eventsReceived.WithLabelValues(ev.Table, "true").Inc()

	key := ev.Table + ":" + ev.ID
	w.queue.Go(ctx, key, taskqueue.JobFunc(func(ctx context.Context) error {
		out, err := w.handler.AnalyzeByID(ctx, ev.Table, ev.ID)
		if err == nil {
			w.log.Debug().Str("table", ev.Table).Str("id", ev.ID).Str("summary", out.Summary).Msg("change analysed")
			return nil
		}
		w.log.Error().Err(err).Str("table", ev.Table).Str("id", ev.ID).Str("op", op).Msg("analyze error")
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, llm.ErrInvalidCredential) {
			return taskqueue.Permanent(err)
		}
		return err
	}))
}
