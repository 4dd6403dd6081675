// Package phout writes one tab separated line per call in the phout format
// understood by yandex-tank and pandora tooling.
package phout

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/ozontech/grpcq/report"
	"github.com/ozontech/grpcq/utils/pool"
)

var now = time.Now

type Reporter struct {
	w       *bufio.Writer
	ch      chan *callState
	pool    *pool.SlicePool[*callState]
	timeout time.Duration
}

var _ report.Reporter = (*Reporter)(nil)

func New(w io.Writer, timeout time.Duration) *Reporter {
	return &Reporter{
		bufio.NewWriter(w),
		make(chan *callState, 256),
		pool.NewSlicePoolSize[*callState](256),
		timeout,
	}
}

func (r *Reporter) Run() error {
	for s := range r.ch {
		_, err := r.w.Write(s.result())
		r.pool.Release(s)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return r.w.Flush()
}

// Close must be called once, after every acquired state has ended.
func (r *Reporter) Close() error {
	close(r.ch)
	return nil
}

func (r *Reporter) Acquire(method string) report.CallState {
	ss, ok := r.pool.Acquire()
	if !ok {
		ss = &callState{
			reportLine: make([]byte, 128),
			reporter:   r,
			timeout:    r.timeout,
		}
	}
	ss.reset(method)
	return ss
}

func (r *Reporter) accept(s *callState) {
	r.ch <- s
}

type callState struct {
	reportLine []byte

	reporter *Reporter
	timeout  time.Duration

	code     codes.Code
	hasCode  bool
	reqSize  int
	respSize int

	startTime time.Time
	endTime   time.Time
	method    string
}

func (s *callState) reset(method string) {
	s.method = method
	s.startTime = now()

	s.code = codes.OK
	s.hasCode = false
	s.reqSize = 0
	s.respSize = 0
}

func (s *callState) SetSize(size int)  { s.reqSize = size }
func (s *callState) Received(size int) { s.respSize += size }

func (s *callState) Status(code codes.Code) {
	s.code = code
	s.hasCode = true
}

const tabChar = '\t'

func (s *callState) result() []byte {
	s.reportLine = s.reportLine[:0]
	s.reportLine = strconv.AppendInt(s.reportLine, s.startTime.Unix(), 10)
	s.reportLine = append(s.reportLine, '.')
	s.reportLine = fmt.Appendf(s.reportLine, "%03d", s.startTime.Nanosecond()/1e6)
	s.reportLine = append(s.reportLine, tabChar)
	s.reportLine = append(s.reportLine, s.method...)
	s.reportLine = append(s.reportLine, tabChar)

	// keyRTTMicro
	rtt := s.endTime.Sub(s.startTime).Microseconds()
	s.reportLine = strconv.AppendInt(s.reportLine, rtt, 10)
	s.reportLine = append(s.reportLine, tabChar)

	// keyConnectMicro, keySendMicro, keyLatencyMicro, keyReceiveMicro, keyIntervalEventMicro
	for range 5 {
		s.reportLine = append(s.reportLine, '0', tabChar)
	}
	// keyRequestBytes
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.reqSize), 10)
	s.reportLine = append(s.reportLine, tabChar)
	// keyResponseBytes
	s.reportLine = strconv.AppendInt(s.reportLine, int64(s.respSize), 10)
	s.reportLine = append(s.reportLine, tabChar)
	// keyErrno
	s.reportLine = append(s.reportLine, '0', tabChar)
	// keyProtoCode
	switch {
	case s.timeout > 0 && s.endTime.Sub(s.startTime) > s.timeout:
		s.reportLine = append(s.reportLine, "grpc_4"...)
	case !s.hasCode:
		s.reportLine = append(s.reportLine, "grpc_2"...) // статус так и не пришел
	default:
		s.reportLine = append(s.reportLine, "grpc_"...)
		s.reportLine = strconv.AppendInt(s.reportLine, int64(s.code), 10)
	}
	s.reportLine = append(s.reportLine, '\n')
	return s.reportLine
}

func (s *callState) End() {
	s.endTime = now()
	s.reporter.accept(s)
}
