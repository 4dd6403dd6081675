package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstant(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	_, err := NewConstant(0)
	a.Error(err)

	c, err := NewConstant(100)
	require.NoError(t, err)
	at, ok := c.Next(3)
	a.True(ok)
	a.Equal(30*time.Millisecond, at)
}

func TestLimiters(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	c, err := NewConstant(10)
	require.NoError(t, err)

	s := NewCountLimiter(c, 2)
	_, ok := s.Next(1)
	a.True(ok)
	_, ok = s.Next(2)
	a.False(ok)

	d := NewDurationLimiter(c, 250*time.Millisecond)
	_, ok = d.Next(2)
	a.True(ok)
	_, ok = d.Next(3)
	a.False(ok)
}

func TestLine(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	_, err := NewLine(10, 10, time.Second)
	a.Error(err)

	// от 0 до 100 rps за секунду: 50 вызовов к концу секунды
	l, err := NewLine(0, 100, time.Second)
	require.NoError(t, err)
	at, ok := l.Next(50)
	a.True(ok)
	a.InDelta(float64(time.Second), float64(at), float64(time.Millisecond))

	down, err := NewLine(100, 0, time.Second)
	require.NoError(t, err)
	_, ok = down.Next(51)
	a.False(ok)
}

func TestPace(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	var got []int64
	err := Pace(context.Background(), NewCountLimiter(Unlimited{}, 5), func(n int64) {
		got = append(got, n)
	})
	require.NoError(t, err)
	a.Equal([]int64{0, 1, 2, 3, 4}, got)

	ctx, cancel := context.WithCancel(context.Background())
	c, err := NewConstant(1)
	require.NoError(t, err)
	calls := 0
	err = Pace(ctx, c, func(int64) {
		calls++
		cancel()
	})
	a.ErrorIs(err, context.Canceled)
	a.Equal(1, calls)
}
