package idgen

import (
	"fmt"
	"sync/atomic"
)

// Uint32 returns values 1,2,3... up to 2^32-1, then wraps around to 1.
// Zero is never generated.
type Uint32 struct {
	next atomic.Uint32
}

func (u *Uint32) Next() uint32 {
	n := u.next.Add(1)
	if n == 0 {
		n = u.next.Add(1)
	}
	return n
}

// Names hands out unique human readable names such as "Thread 1", "Thread 2".
// It is owned by whoever creates the threads (usually the orchestrator), and
// passed to each thread at construction, instead of living in a global.
type Names struct {
	prefix string
	ids    Uint32
}

func NewNames(prefix string) *Names {
	return &Names{prefix: prefix}
}

func (n *Names) Next() string {
	return fmt.Sprintf("%v %v", n.prefix, n.ids.Next())
}
