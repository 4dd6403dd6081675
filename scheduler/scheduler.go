// Package scheduler paces repeated calls of the CLI.
package scheduler

import (
	"context"
	"errors"
	"math"
	"time"
)

// Scheduler returns the offset from the beginning at which call n (starting
// at 0) is due, or false when no more calls should be made.
type Scheduler interface {
	Next(n int64) (at time.Duration, ok bool)
}

type CountLimiter struct {
	s     Scheduler
	limit int64
}

func NewCountLimiter(s Scheduler, limit int64) CountLimiter {
	return CountLimiter{s, limit}
}

func (cl CountLimiter) Next(n int64) (time.Duration, bool) {
	if n >= cl.limit {
		return 0, false
	}
	return cl.s.Next(n)
}

// DurationLimiter stops once the offset passes the limit.
type DurationLimiter struct {
	s     Scheduler
	limit time.Duration
}

func NewDurationLimiter(s Scheduler, limit time.Duration) DurationLimiter {
	return DurationLimiter{s, limit}
}

func (dl DurationLimiter) Next(n int64) (time.Duration, bool) {
	at, ok := dl.s.Next(n)
	if !ok || at > dl.limit {
		return 0, false
	}
	return at, true
}

// Constant spaces calls evenly.
type Constant struct {
	interval time.Duration
}

func NewConstant(rps uint64) (Constant, error) {
	if rps == 0 {
		return Constant{}, errors.New("rps must be positive")
	}
	return Constant{time.Second / time.Duration(rps)}, nil
}

func (c Constant) Next(n int64) (time.Duration, bool) {
	return time.Duration(n) * c.interval, true
}

// Unlimited fires every call immediately.
type Unlimited struct{}

func (Unlimited) Next(int64) (time.Duration, bool) { return 0, true }

// Line ramps the rate linearly from one rps to another over d.
type Line struct {
	b          float64
	twoA       float64
	bSquare    float64
	bilionDivA float64
}

func NewLine(from, to float64, d time.Duration) (Line, error) {
	if d <= 0 || from == to || from < 0 || to < 0 {
		return Line{}, errors.New("line needs a positive duration and distinct non-negative rates")
	}
	a := (to - from) / d.Seconds()
	return Line{
		b:          from,
		twoA:       2 * a,
		bSquare:    from * from,
		bilionDivA: 1e9 / a,
	}, nil
}

// Next решает a*t^2/2 + b*t = n относительно t.
func (l Line) Next(n int64) (time.Duration, bool) {
	d := l.twoA*float64(n) + l.bSquare
	if d < 0 {
		// скорость упала до нуля раньше, чем набралось n вызовов
		return 0, false
	}
	return time.Duration((math.Sqrt(d) - l.b) * l.bilionDivA), true
}

// Pace calls fn for every call s allows, each at its due time, until the
// scheduler stops or ctx is done.
func Pace(ctx context.Context, s Scheduler, fn func(n int64)) error {
	begin := time.Now()
	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C
	for n := int64(0); ; n++ {
		at, ok := s.Next(n)
		if !ok {
			return nil
		}
		if wait := at - time.Since(begin); wait > 0 {
			t.Reset(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		fn(n)
	}
}
