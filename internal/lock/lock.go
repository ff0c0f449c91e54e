// Package lock provides per-key mutual exclusion for balance read-modify-write.
//
// Keys are always acquired in sorted order, so two transfers running in
// opposite directions between the same pair of accounts cannot deadlock.
package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrLockTimeout is returned when the context expires before every key is held.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker acquires all keys or none. The returned release func is safe to call once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (release func(), err error)
}

// AccountKey namespaces account ids so they never collide with other lock keys.
func AccountKey(accountID string) string {
	return "account:" + accountID
}

func DebtKey(debtID string) string {
	return "debt:" + debtID
}

func SubscriptionKey(subscriptionID string) string {
	return "subscription:" + subscriptionID
}

// Ordered returns the keys sorted and de-duplicated.
func Ordered(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LocalLocker serializes callers inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// slot is a one-token semaphore; waiting on a channel lets acquisition honour ctx.
type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := Ordered(keys)
	held := make([]string, 0, len(ordered))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, key := range ordered {
		s := l.acquireSlot(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.releaseSlot(key)
			release()
			return func() {}, ErrLockTimeout
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *LocalLocker) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) releaseSlot(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) unlock(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	<-s.ch
	l.releaseSlot(key)
}
