package oracle

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
)

type entry struct {
	ready  chan struct{}
	oracle Oracle
	err    error
}

// Registry initializes each checkpoint at most once and never evicts.
// Concurrent first callers wait on the single in-flight load.
type Registry struct {
	logger *slog.Logger
	loader Loader

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(logger *slog.Logger, loader Loader) *Registry {
	return &Registry{
		logger:  logger,
		loader:  loader,
		entries: make(map[string]*entry),
	}
}

// Get returns the oracle for checkpoint, loading it on first use. A failed
// load is remembered and returned as *InitError on every call.
func (r *Registry) Get(ctx context.Context, checkpoint string) (Oracle, error) {
	r.mu.Lock()
	e, ok := r.entries[checkpoint]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		r.entries[checkpoint] = e
		r.mu.Unlock()
		// the load outlives the caller that triggered it
		go r.load(context.WithoutCancel(ctx), checkpoint, e)
	} else {
		r.mu.Unlock()
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.oracle, nil
}

// Warm loads checkpoint and blocks until it is ready.
func (r *Registry) Warm(ctx context.Context, checkpoint string) error {
	_, err := r.Get(ctx, checkpoint)
	return err
}

func (r *Registry) load(ctx context.Context, checkpoint string, e *entry) {
	defer close(e.ready)

	start := time.Now()
	r.logger.Info("loading oracle", "checkpoint", checkpoint)
	o, err := r.loader.Load(ctx, checkpoint)
	observability.IncOracleLoad(err)
	if err != nil {
		r.logger.Error("oracle load failed", "checkpoint", checkpoint, "err", err)
		e.err = &InitError{Checkpoint: checkpoint, Err: err}
		return
	}
	r.logger.Info("oracle ready", "checkpoint", checkpoint, "duration", time.Since(start).String())
	e.oracle = o
}

// State is the load status of one checkpoint.
type State struct {
	Checkpoint string `json:"checkpoint"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

const (
	StatusLoading = "loading"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// States reports every checkpoint seen so far, sorted by name.
func (r *Registry) States() []State {
	r.mu.Lock()
	snapshot := make(map[string]*entry, len(r.entries))
	for k, e := range r.entries {
		snapshot[k] = e
	}
	r.mu.Unlock()

	out := make([]State, 0, len(snapshot))
	for k, e := range snapshot {
		s := State{Checkpoint: k, Status: StatusLoading}
		select {
		case <-e.ready:
			if e.err != nil {
				s.Status = StatusFailed
				s.Error = e.err.Error()
			} else {
				s.Status = StatusReady
			}
		default:
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Checkpoint < out[j].Checkpoint })
	return out
}

// Status reports the state of a single checkpoint; ok is false if it has
// never been requested.
func (r *Registry) Status(checkpoint string) (State, bool) {
	for _, s := range r.States() {
		if s.Checkpoint == checkpoint {
			return s, true
		}
	}
	return State{}, false
}
