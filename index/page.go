package index

import (
	"cmp"

	"github.com/jobala/basalt/storage/disk"
)

type PAGE_TYPE = int

const (
	INVALID_PAGE PAGE_TYPE = iota
	INTERNAL_PAGE
	LEAF_PAGE
)

const HEADER_PAGE_ID = disk.HEADER_PAGE_ID

type opType int

const (
	opRead opType = iota
	opInsert
	opDelete
)

// treePage is the on-page representation of a tree node. Leaf pages
// use Rids and the Next pointer; internal pages use Children with
// Keys[0] as an unused sentinel. Keys and the payload slice are kept
// at exactly Size entries.
type treePage[K cmp.Ordered] struct {
	PageType PAGE_TYPE
	Size     int32
	MaxSize  int32
	Parent   disk.PageId
	PageId   disk.PageId
	Next     disk.PageId
	Keys     []K
	Rids     []disk.Rid
	Children []disk.PageId
}

func (p *treePage[K]) isLeafPage() bool {
	return p.PageType == LEAF_PAGE
}

func (p *treePage[K]) isRootPage() bool {
	return p.Parent == disk.INVALID_PAGE_ID
}

func (p *treePage[K]) getSize() int {
	return int(p.Size)
}

func (p *treePage[K]) keyAt(idx int) K {
	return p.Keys[idx]
}

func (p *treePage[K]) minSize() int {
	return int(p.MaxSize+1) / 2
}

// isSafe reports whether a local modification at this node cannot
// propagate to its parent. The root has no minimum occupancy but
// still collapses, so it gets its own lower bounds for deletes.
func (p *treePage[K]) isSafe(op opType) bool {
	switch op {
	case opInsert:
		return p.getSize() < int(p.MaxSize)-1
	case opDelete:
		if p.isRootPage() {
			if p.isLeafPage() {
				return p.getSize() > 1
			}
			return p.getSize() > 2
		}
		return p.getSize() > p.minSize()
	default:
		return true
	}
}

// maxMergeableSize is the combined occupancy at which two siblings no
// longer fit into one node and must redistribute instead of merging.
func (p *treePage[K]) maxMergeableSize() int {
	if p.isLeafPage() {
		return int(p.MaxSize)
	}
	return int(p.MaxSize) + 1
}
