package types

import (
	"context"
	"fmt"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Op - вид асинхронной операции вызова.
type Op uint8

const (
	OpStart      Op = iota + 1 // StartCall
	OpWrite                    // Write(payload)
	OpWritesDone               // half-close
	OpRead                     // Read
	OpFinish                   // Finish (терминальный статус)
)

func (o Op) String() string {
	switch o {
	case OpStart:
		return "start"
	case OpWrite:
		return "write"
	case OpWritesDone:
		return "writes-done"
	case OpRead:
		return "read"
	case OpFinish:
		return "finish"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Tag identifies a submitted operation: the live call it belongs to and the operation kind.
type Tag struct {
	CallID uint32
	Op     Op
}

func (t Tag) String() string {
	return fmt.Sprintf("%d/%s", t.CallID, t.Op)
}

type Event struct {
	Tag Tag
	OK  bool
}

type CompletionQueue interface {
	Push(tag Tag, ok bool) bool // false если очередь уже остановлена и событие отброшено
	Next() (Event, bool)        // блокируется до события; false - очередь остановлена и вычитана
	Shutdown()                  // идемпотентно, можно вызывать из любой горутины
}

// Handler is a live call as seen by the pump.
// Proceed is only ever called from the pump goroutine.
type Handler interface {
	Proceed(op Op, ok bool)
}

// Call is the generic duplex call primitive. Every method only submits the
// operation; its completion is pushed to the completion queue the call was
// prepared with, tagged with the given tag.
type Call interface {
	StartCall(tag Tag)
	Write(payload []byte, tag Tag) // payload принадлежит Call до завершения операции
	WritesDone(tag Tag)
	Read(tag Tag)
	Finish(tag Tag)

	// Received returns the payload of the last successful Read.
	// The slice is handed over to the caller and never reused by the Call.
	Received() []byte
	// Header returns the response headers once the first Read completed.
	Header() metadata.MD
	// Status is valid after Finish completed or StartCall failed.
	Status() (*status.Status, metadata.MD)

	Cancel()
	Wait() error
}

type Dialer interface {
	PrepareCall(ctx context.Context, method string, q CompletionQueue) Call
}

// Invoker is the direct blocking unary primitive. A Dialer may implement it;
// the sync unary path then skips the five-step machine.
type Invoker interface {
	Invoke(ctx context.Context, method string, request []byte) (response []byte, trailer metadata.MD, err error)
}
