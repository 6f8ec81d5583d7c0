package store

import "sync"

// branchLocks hands out one mutex per branch code. Entries are dropped
// once no goroutine holds or waits on them.
type branchLocks struct {
	mu    sync.Mutex
	locks map[string]*branchLock
}

type branchLock struct {
	sync.Mutex
	refs int
}

func newBranchLocks() *branchLocks {
	return &branchLocks{locks: make(map[string]*branchLock)}
}

// lock acquires the mutex for branch and returns its release func.
func (b *branchLocks) lock(branch string) func() {
	b.mu.Lock()
	l, ok := b.locks[branch]
	if !ok {
		l = &branchLock{}
		b.locks[branch] = l
	}
	l.refs++
	b.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, branch)
		}
		b.mu.Unlock()
	}
}

// size reports how many branches currently have a lock entry.
func (b *branchLocks) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.locks)
}
