package call

import (
	"google.golang.org/grpc/metadata"

	"github.com/ozontech/grpcq/rpcerr"
)

// Observers are the async-mode notification slots of a stream.
// They are fixed once the first observer-visible event has been dispatched.
// Every callback runs on the pump goroutine (or, for a cancelled stream, on
// the goroutine delivering the cancellation status) and must not block on
// the same stream.
type Observers struct {
	OnData     func(item []byte)
	OnStatus   func(st Status)
	OnError    func(err error) // only for non-OK terminal status, after OnStatus
	OnMetadata func(header metadata.MD)
}

func (s *Stream) OnData(fn func(item []byte)) error {
	return s.setObserver(func(o *Observers) { o.OnData = fn })
}

func (s *Stream) OnStatus(fn func(st Status)) error {
	return s.setObserver(func(o *Observers) { o.OnStatus = fn })
}

func (s *Stream) OnError(fn func(err error)) error {
	return s.setObserver(func(o *Observers) { o.OnError = fn })
}

func (s *Stream) OnMetadata(fn func(header metadata.MD)) error {
	return s.setObserver(func(o *Observers) { o.OnMetadata = fn })
}

func (s *Stream) setObserver(set func(o *Observers)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return rpcerr.ErrObserversSealed
	}
	set(&s.obs)
	return nil
}

// sealObservers closes observer registration and returns the final set.
func (s *Stream) sealObservers() Observers {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return s.obs
}
