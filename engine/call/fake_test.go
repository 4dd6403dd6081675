package call

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ozontech/grpcq/engine/types"
)

// fakeCall is a scripted transport call. Every op completes synchronously
// unless the script holds it.
type fakeCall struct {
	mu sync.Mutex
	q  types.CompletionQueue

	startFails bool
	startErr   *status.Status

	// ответы сервера; после исчерпания Read завершается ok=false,
	// если holdReads - висит до deliver/end
	responses [][]byte
	holdReads bool
	heldRead  *types.Tag

	holdWrites bool
	heldWrites []types.Tag

	header  metadata.MD
	final   *status.Status
	trailer metadata.MD

	ops        []types.Op
	written    [][]byte
	received   []byte
	cancelled  bool
	cancelCall int
}

func (f *fakeCall) StartCall(tag types.Tag) {
	f.mu.Lock()
	f.ops = append(f.ops, types.OpStart)
	ok := !f.startFails
	f.mu.Unlock()
	f.q.Push(tag, ok)
}

func (f *fakeCall) Write(payload []byte, tag types.Tag) {
	f.mu.Lock()
	f.ops = append(f.ops, types.OpWrite)
	f.written = append(f.written, payload)
	if f.holdWrites {
		f.heldWrites = append(f.heldWrites, tag)
		f.mu.Unlock()
		return
	}
	ok := !f.cancelled
	f.mu.Unlock()
	f.q.Push(tag, ok)
}

// completeWrite acknowledges the oldest held write.
func (f *fakeCall) completeWrite() bool {
	f.mu.Lock()
	if len(f.heldWrites) == 0 {
		f.mu.Unlock()
		return false
	}
	tag := f.heldWrites[0]
	f.heldWrites = f.heldWrites[1:]
	f.mu.Unlock()
	f.q.Push(tag, true)
	return true
}

func (f *fakeCall) WritesDone(tag types.Tag) {
	f.mu.Lock()
	f.ops = append(f.ops, types.OpWritesDone)
	ok := !f.cancelled
	f.mu.Unlock()
	f.q.Push(tag, ok)
}

func (f *fakeCall) Read(tag types.Tag) {
	f.mu.Lock()
	f.ops = append(f.ops, types.OpRead)
	if f.cancelled {
		f.mu.Unlock()
		f.q.Push(tag, false)
		return
	}
	if len(f.responses) > 0 {
		f.received = f.responses[0]
		f.responses = f.responses[1:]
		f.mu.Unlock()
		f.q.Push(tag, true)
		return
	}
	if f.holdReads {
		f.heldRead = &tag
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.q.Push(tag, false)
}

// deliver completes the held read with item.
func (f *fakeCall) deliver(item []byte) {
	f.mu.Lock()
	tag := f.heldRead
	f.heldRead = nil
	if tag == nil {
		f.responses = append(f.responses, item)
		f.mu.Unlock()
		return
	}
	f.received = item
	f.mu.Unlock()
	f.q.Push(*tag, true)
}

func (f *fakeCall) Finish(tag types.Tag) {
	f.mu.Lock()
	f.ops = append(f.ops, types.OpFinish)
	f.mu.Unlock()
	f.q.Push(tag, true)
}

func (f *fakeCall) Received() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.received
	f.received = nil
	return r
}

func (f *fakeCall) Header() metadata.MD {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.header
}

func (f *fakeCall) Status() (*status.Status, metadata.MD) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.startFails && f.startErr != nil:
		return f.startErr, nil
	case f.startFails:
		return status.New(codes.Unavailable, "connection refused"), nil
	case f.cancelled:
		return status.New(codes.Canceled, context.Canceled.Error()), f.trailer
	case f.final != nil:
		return f.final, f.trailer
	}
	return status.New(codes.OK, ""), f.trailer
}

func (f *fakeCall) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.cancelCall++
	tag := f.heldRead
	f.heldRead = nil
	f.mu.Unlock()
	if tag != nil {
		f.q.Push(*tag, false)
	}
}

func (f *fakeCall) Wait() error { return nil }

func (f *fakeCall) Ops() []types.Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Op(nil), f.ops...)
}

func (f *fakeCall) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

func (f *fakeCall) count(op types.Op) int {
	n := 0
	for _, o := range f.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	call   *fakeCall
	method string
}

func (d *fakeDialer) PrepareCall(_ context.Context, method string, q types.CompletionQueue) types.Call {
	d.method = method
	d.call.q = q
	return d.call
}
