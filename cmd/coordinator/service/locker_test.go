package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLockerSerializesSameKey(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "drill-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.Len())
}

func TestKeyedLockerIndependentKeys(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	a, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	b, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	a()
	b()
	assert.Zero(t, l.Len())
}

func TestKeyedLockerHonorsContext(t *testing.T) {
	l := NewKeyedLocker()

	unlock, err := l.Lock(context.Background(), "drill-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "drill-1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	unlock() // second release is a no-op
	assert.Zero(t, l.Len())

	again, err := l.Lock(context.Background(), "drill-1")
	require.NoError(t, err)
	again()
}
