// Package store contains one state container per domain concern. Containers
// that display posts hold ids only and resolve them through the entity cache.
package store

import (
	"context"
	"net/url"
	"sync"

	"loopline/internal/models"
	"loopline/internal/observability"
)

// API is the gateway surface used by the containers.
type API interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Patch(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
	Upload(ctx context.Context, method, path string, fields map[string]string, files []models.Upload, out any) error
}

// OpState is the loading and error state of one container operation.
type OpState struct {
	Busy bool
	Err  error
}

// Message returns the human-readable error, or "".
func (s OpState) Message() string {
	return models.UserMessage(s.Err)
}

// Ops tracks busy and last-error state per operation name, so unrelated
// operations of one container never share a flag.
type Ops struct {
	mu       sync.Mutex
	inflight map[string]int
	errs     map[string]error
	gen      uint64
}

// State returns the state of op.
func (o *Ops) State(op string) OpState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OpState{Busy: o.inflight[op] > 0, Err: o.errs[op]}
}

func (o *Ops) begin(op string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight == nil {
		o.inflight = make(map[string]int)
		o.errs = make(map[string]error)
	}
	o.inflight[op]++
	delete(o.errs, op)
	return o.gen
}

func (o *Ops) end(op string, gen uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	if o.inflight[op] > 0 {
		o.inflight[op]--
	}
	if err != nil {
		o.errs[op] = err
	}
}

// run wraps fn with busy tracking, error capture and logging.
func (o *Ops) run(ctx context.Context, log *observability.StoreLogger, op string, fn func() error) error {
	gen := o.begin(op)
	err := fn()
	o.end(op, gen, err)
	if err != nil {
		log.LogError(ctx, err, op)
		return err
	}
	log.LogAction(ctx, op, nil)
	return nil
}

// generation changes on every reset. Responses to requests issued in an
// older generation are not applied to container lists.
func (o *Ops) generation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen
}

func (o *Ops) resetOps() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight = nil
	o.errs = nil
	o.gen++
}

// commit applies fn under mu unless the container was reset after gen.
func (o *Ops) commit(mu *sync.Mutex, gen uint64, fn func()) {
	mu.Lock()
	defer mu.Unlock()
	if o.generation() != gen {
		return
	}
	fn()
}
