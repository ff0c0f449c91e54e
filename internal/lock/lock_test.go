package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdered(t *testing.T) {
	assert.Equal(t, []string{"account:a", "account:b"}, Ordered([]string{"account:b", "account:a", "account:b"}))
	assert.Empty(t, Ordered(nil))
}

func TestLocalLocker(t *testing.T) {
	t.Run("serializes holders of the same key", func(t *testing.T) {
		l := NewLocalLocker()
		var inside, maxInside int32
		var wg sync.WaitGroup

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := l.Lock(context.Background(), AccountKey("a"))
				if !assert.NoError(t, err) {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				release()
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxInside)
		assert.Empty(t, l.slots)
	})

	t.Run("opposite order pairs do not deadlock", func(t *testing.T) {
		l := NewLocalLocker()
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				keys := []string{AccountKey("a"), AccountKey("b")}
				if i%2 == 1 {
					keys[0], keys[1] = keys[1], keys[0]
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				release, err := l.Lock(ctx, keys...)
				if assert.NoError(t, err) {
					release()
				}
			}(i)
		}
		wg.Wait()
	})

	t.Run("times out while another holder keeps the key", func(t *testing.T) {
		l := NewLocalLocker()
		release, err := l.Lock(context.Background(), AccountKey("b"))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, AccountKey("b"), AccountKey("a"))
		assert.ErrorIs(t, err, ErrLockTimeout)

		// a was taken first and must have been given back.
		releaseA, err := l.Lock(context.Background(), AccountKey("a"))
		require.NoError(t, err)
		releaseA()
		release()
	})

	t.Run("release is idempotent", func(t *testing.T) {
		l := NewLocalLocker()
		release, err := l.Lock(context.Background(), AccountKey("a"))
		require.NoError(t, err)
		release()
		release()

		again, err := l.Lock(context.Background(), AccountKey("a"))
		require.NoError(t, err)
		again()
	})
}
