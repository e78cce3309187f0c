package internal

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// maxBackoff caps the number of yields between two acquisition attempts.
const maxBackoff = 16

type spinlock uint32

func (sl *spinlock) Lock() {
	backoff := 1
	for !atomic.CompareAndSwapUint32((*uint32)(sl), 0, 1) {
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
		if backoff < maxBackoff {
			backoff <<= 1
		}
	}
}

func (sl *spinlock) Unlock() {
	atomic.StoreUint32((*uint32)(sl), 0)
}

// Spinlock returns a lock for critical sections that only swap a slice
// header, where parking the goroutine would cost more than yielding.
func Spinlock() sync.Locker {
	return new(spinlock)
}
