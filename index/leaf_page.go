package index

import (
	"cmp"
	"slices"
	"sort"

	"github.com/jobala/basalt/storage/disk"
)

func newLeafPage[K cmp.Ordered](pageId, parent disk.PageId, maxSize int32) *treePage[K] {
	return &treePage[K]{
		PageType: LEAF_PAGE,
		MaxSize:  maxSize,
		Parent:   parent,
		PageId:   pageId,
		Next:     disk.INVALID_PAGE_ID,
	}
}

// keyIndex returns the slot of the first key >= key, which is also
// the insertion point.
func (p *treePage[K]) keyIndex(key K) int {
	return sort.Search(p.getSize(), func(i int) bool {
		return p.Keys[i] >= key
	})
}

func (p *treePage[K]) findLeafKey(key K) (int, bool) {
	idx := p.keyIndex(key)
	if idx < p.getSize() && p.Keys[idx] == key {
		return idx, true
	}
	return idx, false
}

func (p *treePage[K]) insertLeaf(key K, rid disk.Rid) bool {
	idx, found := p.findLeafKey(key)
	if found {
		return false
	}

	p.Keys = slices.Insert(p.Keys, idx, key)
	p.Rids = slices.Insert(p.Rids, idx, rid)
	p.Size += 1

	return true
}

func (p *treePage[K]) removeLeaf(key K) bool {
	idx, found := p.findLeafKey(key)
	if !found {
		return false
	}

	p.Keys = slices.Delete(p.Keys, idx, idx+1)
	p.Rids = slices.Delete(p.Rids, idx, idx+1)
	p.Size -= 1

	return true
}

// moveLeafHalfTo moves the upper half of this page's entries into
// dst, which must be a freshly initialized leaf. The caller fixes the
// next-pointer chain.
func (p *treePage[K]) moveLeafHalfTo(dst *treePage[K]) {
	mid := p.minSize()

	dst.Keys = append(dst.Keys, p.Keys[mid:]...)
	dst.Rids = append(dst.Rids, p.Rids[mid:]...)
	dst.Size = p.Size - int32(mid)

	p.Keys = p.Keys[:mid]
	p.Rids = p.Rids[:mid]
	p.Size = int32(mid)
}

func (p *treePage[K]) appendLeaf(key K, rid disk.Rid) {
	p.Keys = append(p.Keys, key)
	p.Rids = append(p.Rids, rid)
	p.Size += 1
}

func (p *treePage[K]) prependLeaf(key K, rid disk.Rid) {
	p.Keys = slices.Insert(p.Keys, 0, key)
	p.Rids = slices.Insert(p.Rids, 0, rid)
	p.Size += 1
}

func (p *treePage[K]) removeLastLeaf() (K, disk.Rid) {
	last := p.getSize() - 1
	key, rid := p.Keys[last], p.Rids[last]

	p.Keys = p.Keys[:last]
	p.Rids = p.Rids[:last]
	p.Size -= 1

	return key, rid
}

func (p *treePage[K]) removeFirstLeaf() (K, disk.Rid) {
	key, rid := p.Keys[0], p.Rids[0]

	p.Keys = slices.Delete(p.Keys, 0, 1)
	p.Rids = slices.Delete(p.Rids, 0, 1)
	p.Size -= 1

	return key, rid
}
