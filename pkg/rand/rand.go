// Package rand wraps math/rand with a lock so a single weak generator can be
// shared by goroutines.
package rand

import (
	"math/rand"
	"sync"
)

type Rand struct {
	src  *rand.Rand
	lock sync.Mutex
}

func NewRand(seed int64) *Rand {
	return &Rand{
		src: rand.New(rand.NewSource(seed)),
	}
}

func (l *Rand) Uint32() uint32 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.src.Uint32()
}

// Uint16 returns the upper half of a generated uint32.
func (l *Rand) Uint16() uint16 {
	return uint16(l.Uint32() >> 16)
}
