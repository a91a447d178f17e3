package scheduler

import (
	"path/filepath"
	"sync"
)

// KeyedMutex hands out one lock per local repository path. Keys are
// cleaned absolute paths so "site" and "./site/" collide.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// TryLock acquires the lock for path without blocking. When ok is false the
// path is busy and unlock is nil.
func (k *KeyedMutex) TryLock(path string) (unlock func(), ok bool) {
	l := k.lockFor(path)
	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}

func (k *KeyedMutex) lockFor(path string) *sync.Mutex {
	key := lockKey(path)

	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
