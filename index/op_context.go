package index

import (
	"github.com/jobala/basalt/buffer"
	"github.com/jobala/basalt/storage/disk"
)

// opContext tracks the latches a single tree operation holds: the
// root-id latch, the latched frames on the path from the root, and
// the pages queued for deletion once every latch is dropped. Passing
// it down the call chain replaces any per-thread latch bookkeeping.
type opContext struct {
	op          opType
	frames      []*buffer.Frame
	deleted     []disk.PageId
	rootLatched bool
}

func newOpContext(op opType) *opContext {
	return &opContext{op: op}
}

func (c *opContext) exclusive() bool {
	return c.op != opRead
}

func (c *opContext) addFrame(frame *buffer.Frame) {
	c.frames = append(c.frames, frame)
}

func (c *opContext) markDeleted(pageId disk.PageId) {
	c.deleted = append(c.deleted, pageId)
}

func (c *opContext) isDeleted(pageId disk.PageId) bool {
	for _, id := range c.deleted {
		if id == pageId {
			return true
		}
	}
	return false
}
