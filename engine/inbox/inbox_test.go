package inbox

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxOrderAndDrainAfterClose(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	b := New()
	a.True(b.Push([]byte("a")))
	a.True(b.Push([]byte{}))
	b.Close()
	b.Close()
	a.False(b.Push([]byte("late")))

	item, err := b.Pop()
	require.NoError(t, err)
	a.Equal([]byte("a"), item)
	item, err = b.Pop()
	require.NoError(t, err)
	a.Empty(item)

	_, err = b.Pop()
	a.ErrorIs(err, io.EOF)
	_, err = b.Pop()
	a.ErrorIs(err, io.EOF, "never blocks past closure")
}

func TestInboxCloseReleasesWaiter(t *testing.T) {
	t.Parallel()

	b := New()
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Pop()
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("Pop was not released by Close")
	}
}

func TestInboxBlockingPop(t *testing.T) {
	t.Parallel()

	b := New()
	got := make(chan []byte, 1)
	go func() {
		item, err := b.Pop()
		if err == nil {
			got <- item
		}
	}()
	b.Push([]byte("x"))

	select {
	case item := <-got:
		assert.Equal(t, []byte("x"), item)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return pushed item")
	}
}
