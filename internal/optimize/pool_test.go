package optimize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"upscale-batch/internal/queue"
	"upscale-batch/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestPoolRespectsConcurrencyBound(t *testing.T) {
	dir := t.TempDir()
	q := queue.New()
	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, fmt.Sprintf("□%02d.png", i))
		touch(t, p)
		q.Enqueue(p)
	}

	var inFlight, peak atomic.Int64
	fake := func(path string) (Result, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return Result{Path: path}, nil
	}

	var active atomic.Int64
	pool := NewPool(q, Options{Workers: 2, PendingMarker: "□", DoneMarker: "■", Active: &active, Optimize: fake})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return pool.Stats().Optimized == 10 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.LessOrEqual(t, peak.Load(), int64(2))
	require.Equal(t, int64(0), active.Load())
	for i := 0; i < 10; i++ {
		_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("■%02d.png", i)))
		require.NoError(t, err)
	}
}

func TestPoolAbandonsFailedItemsAndContinues(t *testing.T) {
	dir := t.TempDir()
	q := queue.New()
	bad := filepath.Join(dir, "□bad.png")
	good := filepath.Join(dir, "□good.png")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))
	testutil.WritePNG(t, good, 4, 4)
	q.Enqueue(bad)
	q.Enqueue(good)

	var mu sync.Mutex
	var abandoned []string
	pool := NewPool(q, Options{
		Workers:       1,
		PendingMarker: "□",
		DoneMarker:    "■",
		Hooks: Hooks{OnAbandoned: func(path string, err error) {
			mu.Lock()
			abandoned = append(abandoned, path)
			mu.Unlock()
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	require.Eventually(t, func() bool {
		s := pool.Stats()
		return s.Optimized+s.Abandoned == 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, 1, pool.Stats().Optimized)
	mu.Lock()
	require.Equal(t, []string{bad}, abandoned)
	mu.Unlock()
	_, err := os.Stat(bad)
	require.NoError(t, err, "abandoned file is left in place")
	_, err = os.Stat(filepath.Join(dir, "■good.png"))
	require.NoError(t, err)
}

func TestPoolDrainsOnCancelLeavingQueuedItems(t *testing.T) {
	dir := t.TempDir()
	q := queue.New()
	for i := 0; i < 20; i++ {
		p := filepath.Join(dir, fmt.Sprintf("□%02d.png", i))
		touch(t, p)
		q.Enqueue(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 20)
	release := make(chan struct{})
	fake := func(path string) (Result, error) {
		started <- struct{}{}
		<-release
		return Result{Path: path}, nil
	}
	pool := NewPool(q, Options{Workers: 3, PendingMarker: "□", DoneMarker: "■", Optimize: fake})

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	for i := 0; i < 3; i++ {
		<-started
	}
	cancel()
	close(release)
	require.NoError(t, <-done)

	require.Equal(t, 3, pool.Stats().Optimized, "in-hand items finish")
	require.Equal(t, 17, q.Len(), "queued items are left alone")
	require.Equal(t, 0, pool.Active())
}

func TestPoolAbandonsPanickingItemAndKeepsWorking(t *testing.T) {
	dir := t.TempDir()
	q := queue.New()
	boom := filepath.Join(dir, "□boom.png")
	ok := filepath.Join(dir, "□ok.png")
	touch(t, boom)
	touch(t, ok)
	q.Enqueue(boom)
	q.Enqueue(ok)

	var mu sync.Mutex
	var abandonErr error
	var active atomic.Int64
	pool := NewPool(q, Options{
		Workers:       1,
		PendingMarker: "□",
		DoneMarker:    "■",
		Active:        &active,
		Optimize: func(path string) (Result, error) {
			if path == boom {
				panic("codec exploded")
			}
			return Result{Path: path}, nil
		},
		Hooks: Hooks{OnAbandoned: func(_ string, err error) {
			mu.Lock()
			abandonErr = err
			mu.Unlock()
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	require.Eventually(t, func() bool {
		s := pool.Stats()
		return s.Optimized == 1 && s.Abandoned == 1
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, int64(0), active.Load())
	mu.Lock()
	require.ErrorContains(t, abandonErr, "codec exploded")
	mu.Unlock()
	_, err := os.Stat(filepath.Join(dir, "■ok.png"))
	require.NoError(t, err)
	_, err = os.Stat(boom)
	require.NoError(t, err, "panicking item is left in place")
}

func TestPoolStatsSavedSize(t *testing.T) {
	dir := t.TempDir()
	q := queue.New()
	for _, name := range []string{"□a.png", "□b.png"} {
		p := filepath.Join(dir, name)
		touch(t, p)
		q.Enqueue(p)
	}
	pool := NewPool(q, Options{Workers: 1, PendingMarker: "□", DoneMarker: "■", Optimize: func(path string) (Result, error) {
		return Result{Path: path, Before: 100, After: 70}, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	require.Eventually(t, func() bool { return pool.Stats().Optimized == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Equal(t, int64(60), pool.Stats().SavedSize)
}
