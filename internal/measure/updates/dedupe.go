package updates

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultDedupeSize = 4096

type seqDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newSeqDedupe(size int) *seqDedupe {
	if size <= 0 {
		size = defaultDedupeSize
	}
	c, _ := lru.New[string, uint64](size)
	return &seqDedupe{lru: c}
}

// reports whether seq is newer than the last applied one for key
func (d *seqDedupe) fresh(key string, seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(key)
	return !ok || seq > last
}

func (d *seqDedupe) record(key string, seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && last >= seq {
		return
	}
	d.lru.Add(key, seq)
}
