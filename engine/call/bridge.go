package call

import (
	"errors"
	"io"

	"github.com/ozontech/grpcq/engine/types"
	"github.com/ozontech/grpcq/rpcerr"
)

// Блокирующие обертки над асинхронной машиной. Вызывать последовательно,
// не из колбэков этого же потока.

// WriteSync enqueues payload and blocks until the transport acknowledged it.
func (s *Stream) WriteSync(payload []byte) error {
	if s.shape == ServerStream {
		return rpcerr.ErrWriteToServerStream
	}
	if !s.sync {
		return rpcerr.ErrNotSyncMode
	}
	done := make(chan error, 1)
	next, _, err := s.enqueue(payload, done)
	if err != nil {
		return err
	}
	if next != nil {
		s.tr.Write(next.Payload, s.tag(types.OpWrite))
	}
	return <-done
}

// ReadSync pops the next received item. It returns io.EOF once the stream is
// terminal and every item has been consumed.
func (s *Stream) ReadSync() ([]byte, error) {
	if !s.sync {
		return nil, rpcerr.ErrNotSyncMode
	}
	return s.inbox.Pop()
}

// FinishSync waits for queued writes, half-closes the stream and blocks for
// the single response and the terminal status. A non-OK status is returned
// as *rpcerr.Error.
func (s *Stream) FinishSync() ([]byte, error) {
	if s.shape != ClientStream {
		return nil, rpcerr.ErrNotClientStream
	}
	if !s.sync {
		return nil, rpcerr.ErrNotSyncMode
	}

	<-s.writesIdle()

	halfDone := make(chan error, 1)
	submit, err := s.requestHalfClose(halfDone)
	if err != nil {
		return nil, s.finalErr(err)
	}
	if submit {
		s.tr.WritesDone(s.tag(types.OpWritesDone))
	}
	if err := <-halfDone; err != nil {
		return nil, s.finalErr(err)
	}

	resp, popErr := s.inbox.Pop()
	<-s.done
	st, _ := s.Status()
	if err := st.Err(); err != nil {
		return nil, err
	}
	if errors.Is(popErr, io.EOF) {
		return []byte{}, nil
	}
	return resp, nil
}

// finalErr prefers the terminal status over a local failure once the stream
// ends.
func (s *Stream) finalErr(local error) error {
	<-s.done
	st, _ := s.Status()
	if err := st.Err(); err != nil {
		return err
	}
	return local
}

func (s *Stream) writesIdle() <-chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.idleWaiters = append(s.idleWaiters, ch)
	s.releaseIdleLocked()
	s.mu.Unlock()
	return ch
}
