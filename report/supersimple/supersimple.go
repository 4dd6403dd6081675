package supersimple

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"google.golang.org/grpc/codes"

	"github.com/ozontech/grpcq/report"
	"github.com/ozontech/grpcq/utils/pool"
)

// Reporter печатает раз в period сводку по вызовам и итог при закрытии.
type Reporter struct {
	pool    *pool.SlicePool[*callState]
	closeCh chan struct{}
	once    sync.Once
	out     io.Writer
	period  time.Duration
	timeout time.Duration

	start time.Time
	ok    atomic.Uint32
	nook  atomic.Uint32
	req   atomic.Uint32
	sent  atomic.Uint64
	recv  atomic.Uint64

	lastOk   uint32
	lastNook uint32
	lastReq  uint32
	lastRecv uint64
	lastTime time.Time
}

// New creates a reporter. Calls longer than timeout are counted as not ok;
// zero disables the check. period <= 0 prints only the total.
func New(out io.Writer, period, timeout time.Duration) *Reporter {
	now := time.Now()
	return &Reporter{
		pool:     pool.NewSlicePoolSize[*callState](100),
		closeCh:  make(chan struct{}),
		out:      out,
		period:   period,
		timeout:  timeout,
		start:    now,
		lastTime: now,
	}
}

var _ report.Reporter = (*Reporter)(nil)

func (a *Reporter) Run() error {
	defer a.total()
	if a.period <= 0 {
		<-a.closeCh
		return nil
	}
	t := time.NewTicker(a.period)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			a.report(now)
		case <-a.closeCh:
			return nil
		}
	}
}

func (a *Reporter) Close() error {
	a.once.Do(func() { close(a.closeCh) })
	return nil
}

func (a *Reporter) Acquire(string) report.CallState {
	a.req.Add(1)
	ss, ok := a.pool.Acquire()
	if !ok {
		ss = &callState{reporter: a}
	}
	ss.reset()
	return ss
}

// Counters returns ok and not ok call counts so far.
func (a *Reporter) Counters() (ok, nook uint32) {
	return a.ok.Load(), a.nook.Load()
}

func (a *Reporter) accept(s *callState) {
	if s.result() {
		a.ok.Add(1)
	} else {
		a.nook.Add(1)
	}
	a.sent.Add(uint64(s.sent))
	a.recv.Add(uint64(s.recv))

	a.pool.Release(s)
}

func (a *Reporter) write(ok, nook, req uint32, recv uint64, d time.Duration) {
	total := ok + nook
	miliSeconds := d.Milliseconds()
	if miliSeconds > 0 {
		fmt.Fprintf(a.out,
			"total=%d ok=%d nook=%d req=%d recv=%s/s req/s=%.2f resp/s=%.2f\n",
			total, ok, nook, req,
			humanize.Bytes(recv*1000/uint64(miliSeconds)),
			float64(req)*1000/float64(miliSeconds), float64(total)*1000/float64(miliSeconds),
		)
	} else {
		fmt.Fprintf(a.out, "total=%d ok=%d nook=%d req=%d\n", total, ok, nook, req)
	}
}

func (a *Reporter) total() {
	ok, nook := a.ok.Load(), a.nook.Load()
	fmt.Fprintf(a.out, "total: calls=%d ok=%d nook=%d sent=%s recv=%s elapsed=%s\n",
		ok+nook, ok, nook,
		humanize.Bytes(a.sent.Load()), humanize.Bytes(a.recv.Load()),
		time.Since(a.start).Round(time.Millisecond),
	)
}

func (a *Reporter) report(now time.Time) {
	ok, nook, req, recv, period := a.ok.Load(), a.nook.Load(), a.req.Load(), a.recv.Load(), now.Sub(a.lastTime)
	a.write(ok-a.lastOk, nook-a.lastNook, req-a.lastReq, recv-a.lastRecv, period)
	a.lastOk, a.lastNook, a.lastTime, a.lastReq, a.lastRecv = ok, nook, now, req, recv
}

type callState struct {
	reporter *Reporter
	start    time.Time
	code     codes.Code
	sent     int
	recv     int
}

func (s *callState) reset() {
	s.start = time.Now()
	s.code = codes.Unknown
	s.sent, s.recv = 0, 0
}

func (s *callState) SetSize(size int)       { s.sent = size }
func (s *callState) Received(size int)      { s.recv += size }
func (s *callState) Status(code codes.Code) { s.code = code }

func (s *callState) result() (ok bool) {
	if s.code != codes.OK {
		return false
	}
	if s.reporter.timeout > 0 && time.Since(s.start) > s.reporter.timeout {
		return false
	}
	return true
}

func (s *callState) End() {
	s.reporter.accept(s)
}
