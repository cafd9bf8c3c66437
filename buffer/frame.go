package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/jobala/basalt/storage/disk"
)

// Frame is an in-memory slot holding one disk page. The bufferpool
// mutates the metadata under its own mutex; Data is guarded by the
// frame latch, which index code acquires after a fetch returns.
type Frame struct {
	mu     sync.RWMutex
	id     int
	pageId disk.PageId
	Data   []byte
	pins   atomic.Int32
	dirty  bool
}

func newFrame(id int) *Frame {
	return &Frame{
		id:     id,
		pageId: disk.INVALID_PAGE_ID,
		Data:   make([]byte, disk.PAGE_SIZE),
	}
}

func (f *Frame) PageId() disk.PageId {
	return f.pageId
}

func (f *Frame) PinCount() int32 {
	return f.pins.Load()
}

func (f *Frame) pin() {
	f.pins.Add(1)
}

func (f *Frame) unpin() int32 {
	return f.pins.Add(-1)
}

func (f *Frame) reset() {
	f.dirty = false
	f.pins.Store(0)
	f.pageId = disk.INVALID_PAGE_ID
	clear(f.Data)
}

func (f *Frame) RLatch() {
	f.mu.RLock()
}

func (f *Frame) RUnlatch() {
	f.mu.RUnlock()
}

func (f *Frame) WLatch() {
	f.mu.Lock()
}

func (f *Frame) WUnlatch() {
	f.mu.Unlock()
}
