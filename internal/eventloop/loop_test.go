package eventloop

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/peercall/internal/util"
)

func TestMain(m *testing.M) {
	util.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func start(t *testing.T) *Loop {
	t.Helper()
	l := New(2)
	go l.Run(context.Background())
	t.Cleanup(func() {
		l.Stop()
		<-l.Done()
	})
	return l
}

func TestPostOrder(t *testing.T) {
	l := start(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	require.NoError(t, l.Call(context.Background(), func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestTasksNeverOverlap(t *testing.T) {
	l := start(t)

	var mu sync.Mutex
	running, overlaps := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Post(func() {
					mu.Lock()
					running++
					if running > 1 {
						overlaps++
					}
					mu.Unlock()
					time.Sleep(10 * time.Microsecond)
					mu.Lock()
					running--
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Call(context.Background(), func() {}))
	require.Zero(t, overlaps)
}

func TestGoPostsBack(t *testing.T) {
	l := start(t)

	result := make(chan string, 1)
	l.Go(func() {
		l.Post(func() { result <- "done" })
	})

	select {
	case v := <-result:
		require.Equal(t, "done", v)
	case <-time.After(5 * time.Second):
		t.Fatal("completion never posted")
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := start(t)
	l.Post(func() { panic("boom") })

	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	require.True(t, ran)
}

func TestPostAfterStop(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()
	<-l.Done()

	require.False(t, l.Post(func() {}))
	require.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
}
