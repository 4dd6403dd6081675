package flowcontrol

// PendingWrite is an outbound payload waiting for transmission.
// Done, if set, receives the write outcome exactly once (nil on success).
type PendingWrite struct {
	Payload []byte
	Done    chan<- error
}

func (w PendingWrite) resolve(err error) {
	if w.Done != nil {
		w.Done <- err
	}
}

// Writes is the pending write queue of one streaming call. It keeps at most
// one write in flight; everything else waits in insertion order.
//
// Writes is not synchronized: it lives under the owning call's mutex.
type Writes struct {
	queue     []PendingWrite
	inFlight  *PendingWrite
	highWater int
	holding   bool // до завершения StartCall записи только копятся
}

func NewWrites(highWater int) *Writes {
	return &Writes{
		queue:     make([]PendingWrite, 0, highWater),
		highWater: highWater,
		holding:   true,
	}
}

// Enqueue appends w. If nothing is in flight the head of the queue becomes
// the in-flight write and is returned in submit. accepted is false when the
// queue already held highWater items before the call (advisory backpressure,
// the payload is never dropped).
func (w *Writes) Enqueue(pw PendingWrite) (submit *PendingWrite, accepted bool) {
	accepted = len(w.queue) < w.highWater
	w.queue = append(w.queue, pw)
	return w.next(), accepted
}

// Release lets queued writes flow; it returns the write to submit, if any.
func (w *Writes) Release() *PendingWrite {
	w.holding = false
	return w.next()
}

// Completed resolves the in-flight write and returns the next one to submit.
func (w *Writes) Completed(err error) *PendingWrite {
	if w.inFlight != nil {
		w.inFlight.resolve(err)
		w.inFlight = nil
	}
	return w.next()
}

func (w *Writes) next() *PendingWrite {
	if w.holding || w.inFlight != nil || len(w.queue) == 0 {
		return nil
	}
	head := w.queue[0]
	w.queue[0] = PendingWrite{}
	w.queue = w.queue[1:]
	w.inFlight = &head
	return w.inFlight
}

func (w *Writes) InFlight() bool { return w.inFlight != nil }
func (w *Writes) Len() int       { return len(w.queue) }

// Abort resolves the in-flight and every queued write with err and stops the
// queue for good.
func (w *Writes) Abort(err error) {
	w.holding = true
	if w.inFlight != nil {
		w.inFlight.resolve(err)
		w.inFlight = nil
	}
	for i := range w.queue {
		w.queue[i].resolve(err)
		w.queue[i] = PendingWrite{}
	}
	w.queue = w.queue[:0]
}
