package flowcontrol

// Reads gates re-arming of inbound reads for streaming calls.
// At most one read is pending at any moment; TryArm and Resume are the only
// ways to get permission to submit one.
//
// Reads is not synchronized: it lives under the owning call's mutex.
type Reads struct {
	enabled bool // фаза чтения началась
	stopped bool // получен EOF или вызов завершен
	paused  bool
	pending bool
}

// Enable starts the reading phase and reports whether a read must be armed now.
func (r *Reads) Enable() bool {
	r.enabled = true
	return r.TryArm()
}

// TryArm marks a read pending and returns true if one may be submitted now.
func (r *Reads) TryArm() bool {
	if !r.enabled || r.stopped || r.paused || r.pending {
		return false
	}
	r.pending = true
	return true
}

// Completed clears the pending flag. If more reads are expected, it re-arms
// when not paused.
func (r *Reads) Completed(more bool) bool {
	r.pending = false
	if !more {
		r.stopped = true
		return false
	}
	return r.TryArm()
}

func (r *Reads) Pause() { r.paused = true }

// Resume clears the pause and reports whether exactly one new read must be
// armed now.
func (r *Reads) Resume() bool {
	r.paused = false
	return r.TryArm()
}

func (r *Reads) Stop() { r.stopped = true }

func (r *Reads) Paused() bool  { return r.paused }
func (r *Reads) Pending() bool { return r.pending }
