package index

import (
	"cmp"

	"github.com/jobala/basalt/buffer"
	"github.com/jobala/basalt/storage/disk"
	"github.com/jobala/basalt/util"
)

// IndexIterator walks the leaf chain in ascending key order. It keeps
// the current leaf read-latched and pinned; advancing to the next
// leaf latches it before the current one is dropped. The iterator
// releases its leaf when it runs off the end, Close handles an early
// stop.
type IndexIterator[K cmp.Ordered] struct {
	bpm   *buffer.BufferpoolManager
	frame *buffer.Frame
	page  *treePage[K]
	pos   int
}

func (it *IndexIterator[K]) IsEnd() bool {
	if it.frame == nil {
		return true
	}
	return it.pos >= it.page.getSize() && it.page.Next == disk.INVALID_PAGE_ID
}

func (it *IndexIterator[K]) Key() K {
	return it.page.Keys[it.pos]
}

func (it *IndexIterator[K]) Value() disk.Rid {
	return it.page.Rids[it.pos]
}

func (it *IndexIterator[K]) Next() error {
	if it.frame == nil {
		return nil
	}

	it.pos += 1
	if it.pos < it.page.getSize() {
		return nil
	}
	return it.advanceLeaf()
}

func (it *IndexIterator[K]) Close() {
	if it.frame == nil {
		return
	}

	pageId := it.frame.PageId()
	it.frame.RUnlatch()
	it.bpm.UnpinPage(pageId, false)

	it.frame = nil
	it.page = nil
}

// advanceLeaf hops along the leaf chain until it finds a slot to
// stand on, releasing everything at the end of the chain.
func (it *IndexIterator[K]) advanceLeaf() error {
	for it.frame != nil && it.pos >= it.page.getSize() {
		if it.page.Next == disk.INVALID_PAGE_ID {
			it.Close()
			return nil
		}

		nextFrame, err := it.bpm.FetchPage(it.page.Next)
		if err != nil {
			it.Close()
			return err
		}
		nextFrame.RLatch()

		nextPage, err := util.FromPageImage[treePage[K]](nextFrame.Data)
		if err != nil {
			nextId := nextFrame.PageId()
			nextFrame.RUnlatch()
			it.bpm.UnpinPage(nextId, false)
			it.Close()
			return err
		}

		prev, prevId := it.frame, it.frame.PageId()
		it.frame = nextFrame
		it.page = &nextPage
		it.pos = 0

		prev.RUnlatch()
		it.bpm.UnpinPage(prevId, false)
	}
	return nil
}
