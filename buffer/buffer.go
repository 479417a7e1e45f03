// Package buffer implements a first-in-first-out (FIFO) fixed-capacity list of log lines
package buffer

import (
	"sync"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		capacity: capacity,
	}
}

type Buffer struct {
	mutex    sync.RWMutex
	list     []model.LogLine
	capacity int
	index    int
}

// Insert appends line, overwriting the oldest line when full.
// It returns true when a line was dropped to make room.
func (b *Buffer) Insert(line model.LogLine) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.list) < b.capacity { // buffer expanding
		b.list = append(b.list, line)
		return false
	}
	// buffer full
	if b.index == len(b.list) {
		b.index = 0
	}
	b.list[b.index] = line
	b.index++
	return true
}

// Collect returns a copy of the lines, oldest first
func (b *Buffer) Collect() []model.LogLine {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return b.collect()
}

func (b *Buffer) collect() []model.LogLine {
	lines := make([]model.LogLine, 0, len(b.list))
	lines = append(lines, b.list[b.index:]...)
	return append(lines, b.list[:b.index]...)
}

// Since returns the lines with a sequence number greater than seq, oldest first
func (b *Buffer) Since(seq uint64) []model.LogLine {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	all := b.collect()
	for i := range all {
		if all[i].Seq > seq {
			return all[i:]
		}
	}
	return []model.LogLine{}
}

func (b *Buffer) Len() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return len(b.list)
}
