package phout

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

// Тест подменяет now, поэтому не параллельный.
func TestPhout(t *testing.T) {
	a := assert.New(t)
	const timeout = 11 * time.Second
	defer func() { now = time.Now }()

	b := new(bytes.Buffer)
	r := New(b, timeout)
	errChan := make(chan error)
	go func() {
		errChan <- r.Run()
	}()

	var expected string
	line := func(start, end time.Time, rest string) string {
		return fmt.Sprintf("%d.%03d\t%s\n",
			start.Unix(), start.Nanosecond()/1e6,
			fmt.Sprintf(rest, end.Sub(start).Microseconds()),
		)
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire("/Echo/Say")
		state.SetSize(111)
		state.Received(11)
		state.Status(codes.OK)

		endTime := startTime.Add(1500 * time.Microsecond)
		now = func() time.Time { return endTime }
		state.End()

		expected += line(startTime, endTime, "/Echo/Say\t%d\t0\t0\t0\t0\t0\t111\t11\t0\tgrpc_0")
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire("/Echo/Stream")
		state.SetSize(2)
		state.Received(4)
		state.Received(10)
		state.Status(codes.NotFound)

		endTime := startTime.Add(time.Millisecond)
		now = func() time.Time { return endTime }
		state.End()

		expected += line(startTime, endTime, "/Echo/Stream\t%d\t0\t0\t0\t0\t0\t2\t14\t0\tgrpc_5")
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire("")
		state.Status(codes.OK)

		endTime := startTime.Add(timeout + 1)
		now = func() time.Time { return endTime }
		state.End()

		expected += line(startTime, endTime, "\t%d\t0\t0\t0\t0\t0\t0\t0\t0\tgrpc_4")
	}

	{
		startTime := time.Now()
		now = func() time.Time { return startTime }

		state := r.Acquire("")

		endTime := startTime.Add(time.Millisecond)
		now = func() time.Time { return endTime }
		state.End()

		expected += line(startTime, endTime, "\t%d\t0\t0\t0\t0\t0\t0\t0\t0\tgrpc_2")
	}

	a.NoError(r.Close())
	a.NoError(<-errChan)
	a.Equal(expected, b.String())
}
