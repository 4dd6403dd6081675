package pump

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ozontech/grpcq/consts"
	"github.com/ozontech/grpcq/engine/types"
)

var pumpID atomic.Uint32

// Pump owns one completion queue and the goroutine draining it. Every event
// is dispatched to the live call registered under the event's call id.
//
// The goroutine is started by New and exits once the queue is shut down and
// drained. A Pump must be shut down and waited for by its owner.
type Pump struct {
	q      types.CompletionQueue
	calls  *table
	nextID atomic.Uint32

	shutdownOnce sync.Once
	done         chan struct{}

	log *zap.Logger
}

func New(q types.CompletionQueue, log *zap.Logger) *Pump {
	if log == nil {
		log = zap.NewNop()
	}
	id := pumpID.Add(1)
	p := &Pump{
		q:     q,
		calls: newTable(consts.DefaultTableShards),
		done:  make(chan struct{}),
		log:   log.Named("pump").With(zap.Uint32("pump-id", id)),
	}
	go p.run()
	return p
}

func (p *Pump) Queue() types.CompletionQueue { return p.q }

// Register adds h to the live-call table and returns its call id.
// The id must be used as Tag.CallID for every operation h submits.
func (p *Pump) Register(h types.Handler) uint32 {
	id := p.nextID.Add(1)
	p.calls.Set(id, h)
	return id
}

func (p *Pump) Unregister(id uint32) { p.calls.Delete(id) }

// Live returns the number of registered calls.
func (p *Pump) Live() int { return p.calls.Len() }

func (p *Pump) run() {
	defer close(p.done)
	defer p.log.Debug("pump loop done")

	for {
		ev, ok := p.q.Next()
		if !ok {
			return
		}
		p.dispatch(ev)
	}
}

func (p *Pump) dispatch(ev types.Event) {
	h := p.calls.Get(ev.Tag.CallID)
	if h == nil {
		p.log.Warn("event for unknown call dropped", zap.Stringer("tag", ev.Tag), zap.Bool("ok", ev.OK))
		return
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		p.log.Error("dispatch panicked", zap.Stringer("tag", ev.Tag), zap.Any("panic", r))
		panic(r)
	}()
	h.Proceed(ev.Tag.Op, ev.OK)
}

// Shutdown stops the queue. Idempotent and safe from any goroutine,
// including the pump goroutine itself.
func (p *Pump) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.log.Debug("shutdown")
		p.q.Shutdown()
	})
}

// Done is closed when the pump goroutine has exited.
func (p *Pump) Done() <-chan struct{} { return p.done }

// Wait blocks until the pump goroutine has exited or ctx is done.
func (p *Pump) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the pump down and waits for its goroutine.
func (p *Pump) Close(ctx context.Context) error {
	p.Shutdown()
	return p.Wait(ctx)
}
