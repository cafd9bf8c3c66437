package buffer

import (
	"fmt"
	"sync"

	"github.com/jobala/basalt/storage/disk"
	"github.com/jobala/basalt/util"
	"github.com/krotik/common/logutil"
)

var logger = logutil.GetLogger("basalt.buffer")

// BufferpoolManager caches disk pages in a fixed set of frames with
// pin-based lifetime. One mutex serializes the public operations;
// page content access is guarded by the per-frame latch which callers
// acquire after a fetch returns.
type BufferpoolManager struct {
	mu            sync.Mutex
	frames        []*Frame
	pageTable     map[disk.PageId]int
	replacer      *lrukReplacer
	diskScheduler *disk.DiskScheduler
	freeFrames    []int
}

func NewBufferpoolManager(size int, replacer *lrukReplacer, diskScheduler *disk.DiskScheduler) *BufferpoolManager {
	frames := make([]*Frame, size)
	freeFrames := make([]int, size)

	for i := range size {
		frames[i] = newFrame(i)
		freeFrames[i] = i
	}

	return &BufferpoolManager{
		frames:        frames,
		pageTable:     make(map[disk.PageId]int),
		replacer:      replacer,
		diskScheduler: diskScheduler,
		freeFrames:    freeFrames,
	}
}

// NewPage allocates a fresh page on disk and pins it into a frame.
// Fails with BufferpoolExhaustedError when every frame is pinned.
func (b *BufferpoolManager) NewPage() (*Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame, err := b.findVictim()
	if err != nil {
		return nil, err
	}

	pageId := b.diskScheduler.AllocatePage()
	frame.pageId = pageId
	frame.pin()

	b.pageTable[pageId] = frame.id
	b.replacer.recordAccess(frame.id)
	b.replacer.setEvictable(frame.id, false)

	return frame, nil
}

// FetchPage pins the requested page, reading it from disk if it is
// not resident.
func (b *BufferpoolManager) FetchPage(pageId disk.PageId) (*Frame, error) {
	if pageId < 0 {
		return nil, &util.StoreError{Message: fmt.Sprintf("fetching invalid page id %d", pageId)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.pageTable[pageId]; ok {
		frame := b.frames[id]
		frame.pin()

		b.replacer.recordAccess(frame.id)
		b.replacer.setEvictable(frame.id, false)

		return frame, nil
	}

	frame, err := b.findVictim()
	if err != nil {
		return nil, err
	}

	resp := <-b.diskScheduler.Schedule(disk.NewRequest(pageId, nil, false))
	if !resp.Success {
		b.freeFrames = append(b.freeFrames, frame.id)
		return nil, &util.StoreError{
			Message: fmt.Sprintf("error reading page %d from disk", pageId),
			Err:     resp.Err,
		}
	}
	copy(frame.Data, resp.Data)

	frame.pageId = pageId
	frame.pin()

	b.pageTable[pageId] = frame.id
	b.replacer.recordAccess(frame.id)
	b.replacer.setEvictable(frame.id, false)

	return frame, nil
}

// UnpinPage drops one pin and merges the dirty flag. Returns false if
// the page is not resident or was not pinned.
func (b *BufferpoolManager) UnpinPage(pageId disk.PageId, dirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return false
	}

	frame := b.frames[id]
	if frame.pins.Load() <= 0 {
		logger.Warning("unpinning page ", pageId, " which has no pins")
		return false
	}

	if frame.unpin() == 0 {
		b.replacer.setEvictable(frame.id, true)
	}
	if dirty {
		frame.dirty = true
	}

	return true
}

// FlushPage writes the page to disk if it is resident and dirty.
func (b *BufferpoolManager) FlushPage(pageId disk.PageId) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return false
	}

	b.flush(b.frames[id])
	return true
}

func (b *BufferpoolManager) FlushAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, frame := range b.frames {
		if frame.pageId != disk.INVALID_PAGE_ID {
			b.flush(frame)
		}
	}
}

// DeletePage evicts a resident page and returns its frame to the free
// list. Deleting a page that is not resident succeeds; deleting a
// pinned page is refused.
func (b *BufferpoolManager) DeletePage(pageId disk.PageId) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return true
	}

	frame := b.frames[id]
	if frame.pins.Load() > 0 {
		return false
	}

	delete(b.pageTable, pageId)
	if err := b.replacer.remove(frame.id); err != nil {
		logger.Warning("deleting page ", pageId, ": ", err)
	}

	frame.reset()
	b.freeFrames = append(b.freeFrames, frame.id)
	b.diskScheduler.DeallocatePage(pageId)

	return true
}

// findVictim returns a clean frame ready for reuse, preferring the
// free list over eviction. Dirty victims are written back first.
func (b *BufferpoolManager) findVictim() (*Frame, error) {
	if len(b.freeFrames) > 0 {
		id := b.freeFrames[0]
		b.freeFrames = b.freeFrames[1:]
		return b.frames[id], nil
	}

	if id, ok := b.replacer.evict(); ok {
		frame := b.frames[id]
		b.flush(frame)
		delete(b.pageTable, frame.pageId)
		frame.reset()
		return frame, nil
	}

	return nil, util.NewBufferpoolExhaustedError()
}

func (b *BufferpoolManager) flush(frame *Frame) {
	if !frame.dirty {
		return
	}

	data := make([]byte, disk.PAGE_SIZE)
	copy(data, frame.Data)

	resp := <-b.diskScheduler.Schedule(disk.NewRequest(frame.pageId, data, true))
	if !resp.Success {
		logger.Error("error flushing page ", frame.pageId, ": ", resp.Err)
		return
	}
	frame.dirty = false
}
