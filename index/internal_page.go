package index

import (
	"cmp"
	"slices"
	"sort"

	"github.com/jobala/basalt/storage/disk"
)

func newInternalPage[K cmp.Ordered](pageId, parent disk.PageId, maxSize int32) *treePage[K] {
	return &treePage[K]{
		PageType: INTERNAL_PAGE,
		MaxSize:  maxSize,
		Parent:   parent,
		PageId:   pageId,
		Next:     disk.INVALID_PAGE_ID,
	}
}

// findChild picks the subtree for key: the child at the largest slot
// i >= 1 with Keys[i] <= key, or the leftmost child when key sorts
// before every separator.
func (p *treePage[K]) findChild(key K) disk.PageId {
	// Search over separators 1..Size-1 for the first one > key.
	idx := sort.Search(p.getSize()-1, func(i int) bool {
		return p.Keys[i+1] > key
	})
	return p.Children[idx]
}

func (p *treePage[K]) childIndex(child disk.PageId) int {
	for i := range p.getSize() {
		if p.Children[i] == child {
			return i
		}
	}
	return -1
}

func (p *treePage[K]) leftSiblingOf(child disk.PageId) disk.PageId {
	idx := p.childIndex(child)
	if idx <= 0 {
		return disk.INVALID_PAGE_ID
	}
	return p.Children[idx-1]
}

func (p *treePage[K]) rightSiblingOf(child disk.PageId) disk.PageId {
	idx := p.childIndex(child)
	if idx < 0 || idx == p.getSize()-1 {
		return disk.INVALID_PAGE_ID
	}
	return p.Children[idx+1]
}

// insertInternal adds a separator and its right child, keeping
// separators 1..Size-1 strictly ascending.
func (p *treePage[K]) insertInternal(key K, child disk.PageId) {
	idx := 1 + sort.Search(p.getSize()-1, func(i int) bool {
		return p.Keys[i+1] > key
	})

	p.Keys = slices.Insert(p.Keys, idx, key)
	p.Children = slices.Insert(p.Children, idx, child)
	p.Size += 1
}

// removeInternal drops the separator equal to key together with the
// child to its right.
func (p *treePage[K]) removeInternal(key K) bool {
	for i := 1; i < p.getSize(); i++ {
		if p.Keys[i] == key {
			p.Keys = slices.Delete(p.Keys, i, i+1)
			p.Children = slices.Delete(p.Children, i, i+1)
			p.Size -= 1
			return true
		}
	}
	return false
}

// moveInternalHalfTo moves the upper half of this overflowing page
// into dst. dst.Keys[0] receives the separator that the caller pushes
// up into the parent; it stays in place as dst's unused slot 0 key.
// The caller reparents dst.Children.
func (p *treePage[K]) moveInternalHalfTo(dst *treePage[K]) {
	mid := p.minSize()

	dst.Keys = append(dst.Keys, p.Keys[mid:]...)
	dst.Children = append(dst.Children, p.Children[mid:]...)
	dst.Size = p.Size - int32(mid)

	p.Keys = p.Keys[:mid]
	p.Children = p.Children[:mid]
	p.Size = int32(mid)
}

// appendInternal receives an entry rotated in from the right sibling:
// the parent separator becomes this page's last key.
func (p *treePage[K]) appendInternal(key K, child disk.PageId) {
	p.Keys = append(p.Keys, key)
	p.Children = append(p.Children, child)
	p.Size += 1
}

// prependInternal receives an entry rotated in from the left sibling:
// the parent separator becomes the new slot 1 key and child becomes
// the new leftmost child.
func (p *treePage[K]) prependInternal(key K, child disk.PageId) {
	var sentinel K

	p.Keys = slices.Insert(p.Keys, 0, sentinel)
	p.Keys[1] = key
	p.Children = slices.Insert(p.Children, 0, child)
	p.Size += 1
}

func (p *treePage[K]) removeLastInternal() (K, disk.PageId) {
	last := p.getSize() - 1
	key, child := p.Keys[last], p.Children[last]

	p.Keys = p.Keys[:last]
	p.Children = p.Children[:last]
	p.Size -= 1

	return key, child
}

// popFirstInternal removes the leftmost child; the slot 1 key that
// separated it from its right neighbor is returned and the neighbor's
// key slides into the unused slot 0.
func (p *treePage[K]) popFirstInternal() (K, disk.PageId) {
	var sentinel K

	key, child := p.Keys[1], p.Children[0]

	p.Keys = slices.Delete(p.Keys, 0, 1)
	p.Keys[0] = sentinel
	p.Children = slices.Delete(p.Children, 0, 1)
	p.Size -= 1

	return key, child
}
