package multi

import (
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"

	"github.com/ozontech/grpcq/report"
	"github.com/ozontech/grpcq/utils/pool"
)

// Multi раздает события вызова всем вложенным отчетам.
type Multi struct {
	nested []report.Reporter
	pool   *pool.SlicePool[multiState]
}

var _ report.Reporter = (*Multi)(nil)

func New(nested ...report.Reporter) *Multi {
	return &Multi{
		nested,
		pool.NewSlicePoolSize[multiState](128),
	}
}

func (m *Multi) Run() error {
	g := new(errgroup.Group)
	for i := range m.nested {
		r := m.nested[i]
		g.Go(r.Run)
	}
	return g.Wait()
}

func (m *Multi) Close() error {
	g := new(errgroup.Group)
	for i := range m.nested {
		r := m.nested[i]
		g.Go(r.Close)
	}
	return g.Wait()
}

func (m *Multi) Acquire(method string) report.CallState {
	ms, ok := m.pool.Acquire()
	if !ok {
		ms = multiState{states: make([]report.CallState, len(m.nested)), owner: m}
	}

	for i, r := range m.nested {
		ms.states[i] = r.Acquire(method)
	}
	return ms
}

type multiState struct {
	states []report.CallState
	owner  *Multi
}

func (s multiState) SetSize(n int) {
	for _, s := range s.states {
		s.SetSize(n)
	}
}

func (s multiState) Received(n int) {
	for _, s := range s.states {
		s.Received(n)
	}
}

func (s multiState) Status(code codes.Code) {
	for _, s := range s.states {
		s.Status(code)
	}
}

func (s multiState) End() {
	for _, s := range s.states {
		s.End()
	}
	s.owner.pool.Release(s)
}
