package index

import (
	"cmp"
	"fmt"
	"sync"

	"github.com/jobala/basalt/buffer"
	"github.com/jobala/basalt/storage/disk"
	"github.com/jobala/basalt/util"
)

const (
	descendKey = iota
	descendLeft
)

// BPlusTree is a concurrent unique-key index over pages owned by the
// bufferpool. Writers descend with exclusive latches and keep
// ancestors latched until the current node is safe; readers crab with
// shared latches, releasing each parent as soon as the child is held.
type BPlusTree[K cmp.Ordered] struct {
	bpm             *buffer.BufferpoolManager
	indexName       string
	rootMu          sync.RWMutex
	rootPageId      disk.PageId
	leafMaxSize     int32
	internalMaxSize int32
}

func NewBplusTree[K cmp.Ordered](name string, bpm *buffer.BufferpoolManager, leafMaxSize, internalMaxSize int32) (*BPlusTree[K], error) {
	t := &BPlusTree[K]{
		bpm:             bpm,
		indexName:       name,
		rootPageId:      disk.INVALID_PAGE_ID,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}

	headerFrame, err := bpm.FetchPage(HEADER_PAGE_ID)
	if err != nil {
		return nil, fmt.Errorf("error reading header page: %v", err)
	}
	headerFrame.WLatch()

	header, err := util.FromPageImage[headerPage](headerFrame.Data)
	if err != nil {
		headerFrame.WUnlatch()
		bpm.UnpinPage(HEADER_PAGE_ID, false)
		return nil, fmt.Errorf("error decoding header page: %v", err)
	}

	rootPageId, ok := header.rootOf(name)
	if ok {
		t.rootPageId = rootPageId
		headerFrame.WUnlatch()
		bpm.UnpinPage(HEADER_PAGE_ID, false)
		return t, nil
	}

	header.setRoot(name, disk.INVALID_PAGE_ID)
	img, err := util.ToPageImage(header)
	if err == nil {
		copy(headerFrame.Data, img)
	}
	headerFrame.WUnlatch()
	bpm.UnpinPage(HEADER_PAGE_ID, err == nil)

	return t, err
}

func (t *BPlusTree[K]) IsEmpty() bool {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()

	return t.rootPageId == disk.INVALID_PAGE_ID
}

func (t *BPlusTree[K]) GetRootPageId() disk.PageId {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()

	return t.rootPageId
}

// GetValue looks up the rid stored under key.
func (t *BPlusTree[K]) GetValue(key K) (disk.Rid, bool, error) {
	var rid disk.Rid

	ctx := newOpContext(opRead)
	t.lockRoot(ctx)
	if t.rootPageId == disk.INVALID_PAGE_ID {
		t.release(ctx)
		return rid, false, nil
	}

	_, leaf, err := t.findLeaf(key, descendKey, ctx)
	if err != nil {
		t.release(ctx)
		return rid, false, err
	}

	idx, found := leaf.findLeafKey(key)
	if found {
		rid = leaf.Rids[idx]
	}

	t.release(ctx)
	return rid, found, nil
}

// Insert adds key -> rid. Returns false when the key already exists.
func (t *BPlusTree[K]) Insert(key K, rid disk.Rid) (bool, error) {
	ctx := newOpContext(opInsert)
	t.lockRoot(ctx)

	if t.rootPageId == disk.INVALID_PAGE_ID {
		err := t.startNewTree(key, rid)
		t.release(ctx)
		return err == nil, err
	}

	leafFrame, leaf, err := t.findLeaf(key, descendKey, ctx)
	if err != nil {
		t.release(ctx)
		return false, err
	}

	if _, found := leaf.findLeafKey(key); found {
		t.release(ctx)
		return false, nil
	}

	leaf.insertLeaf(key, rid)
	if err := t.storeNode(leafFrame, leaf); err != nil {
		t.release(ctx)
		return false, err
	}

	if leaf.getSize() >= int(leaf.MaxSize) {
		if err := t.splitLeaf(leafFrame, leaf, ctx); err != nil {
			t.release(ctx)
			return false, err
		}
	}

	t.release(ctx)
	return true, nil
}

// Remove deletes key from the tree. Removing an absent key is a
// no-op.
func (t *BPlusTree[K]) Remove(key K) error {
	ctx := newOpContext(opDelete)
	t.lockRoot(ctx)

	if t.rootPageId == disk.INVALID_PAGE_ID {
		t.release(ctx)
		return nil
	}

	leafFrame, leaf, err := t.findLeaf(key, descendKey, ctx)
	if err != nil {
		t.release(ctx)
		return err
	}

	if _, found := leaf.findLeafKey(key); !found {
		t.release(ctx)
		return nil
	}

	err = t.deleteEntry(leafFrame, leaf, key, ctx)
	t.release(ctx)
	return err
}

func (t *BPlusTree[K]) startNewTree(key K, rid disk.Rid) error {
	frame, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	pageId := frame.PageId()

	leaf := newLeafPage[K](pageId, disk.INVALID_PAGE_ID, t.leafMaxSize)
	leaf.insertLeaf(key, rid)

	if err := t.storeNode(frame, leaf); err != nil {
		t.bpm.UnpinPage(pageId, false)
		return err
	}

	t.bpm.UnpinPage(pageId, true)
	return t.setRootPageId(pageId)
}

// findLeaf descends from the root to the target leaf with the
// crabbing protocol. The caller must hold the root-id latch through
// ctx and is responsible for releasing ctx on every exit path.
func (t *BPlusTree[K]) findLeaf(key K, direction int, ctx *opContext) (*buffer.Frame, *treePage[K], error) {
	frame, page, err := t.crabFetch(t.rootPageId, ctx)
	if err != nil {
		return nil, nil, err
	}

	for !page.isLeafPage() {
		var childId disk.PageId
		if direction == descendLeft {
			childId = page.Children[0]
		} else {
			childId = page.findChild(key)
		}

		frame, page, err = t.crabFetch(childId, ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	return frame, page, nil
}

// crabFetch pins and latches pageId. Ancestors (and the root-id
// latch) are released once the fetched node is safe for the running
// operation; readers treat every node as safe.
func (t *BPlusTree[K]) crabFetch(pageId disk.PageId, ctx *opContext) (*buffer.Frame, *treePage[K], error) {
	frame, err := t.bpm.FetchPage(pageId)
	if err != nil {
		return nil, nil, err
	}
	t.latch(frame, ctx.exclusive())

	page, err := t.loadNode(frame)
	if err != nil {
		t.unlatch(frame, ctx.exclusive())
		t.bpm.UnpinPage(pageId, false)
		return nil, nil, err
	}

	if len(ctx.frames) > 0 && (!ctx.exclusive() || page.isSafe(ctx.op)) {
		t.release(ctx)
	}
	ctx.addFrame(frame)

	return frame, page, nil
}

// latchSibling pins and write-latches a sibling during underflow
// handling; it joins the context's latched set but never triggers an
// ancestor release.
func (t *BPlusTree[K]) latchSibling(pageId disk.PageId, ctx *opContext) (*buffer.Frame, *treePage[K], error) {
	frame, err := t.bpm.FetchPage(pageId)
	if err != nil {
		return nil, nil, err
	}
	frame.WLatch()

	page, err := t.loadNode(frame)
	if err != nil {
		frame.WUnlatch()
		t.bpm.UnpinPage(pageId, false)
		return nil, nil, err
	}

	ctx.addFrame(frame)
	return frame, page, nil
}

// release drops the root-id latch and every latched frame, unpinning
// each and physically freeing the pages queued for deletion.
func (t *BPlusTree[K]) release(ctx *opContext) {
	if ctx.rootLatched {
		if ctx.exclusive() {
			t.rootMu.Unlock()
		} else {
			t.rootMu.RUnlock()
		}
		ctx.rootLatched = false
	}

	for _, frame := range ctx.frames {
		pageId := frame.PageId()
		t.unlatch(frame, ctx.exclusive())
		t.bpm.UnpinPage(pageId, ctx.exclusive())
		if ctx.isDeleted(pageId) {
			t.bpm.DeletePage(pageId)
		}
	}

	ctx.frames = nil
	ctx.deleted = nil
}

func (t *BPlusTree[K]) lockRoot(ctx *opContext) {
	if ctx.exclusive() {
		t.rootMu.Lock()
	} else {
		t.rootMu.RLock()
	}
	ctx.rootLatched = true
}

func (t *BPlusTree[K]) latch(frame *buffer.Frame, exclusive bool) {
	if exclusive {
		frame.WLatch()
	} else {
		frame.RLatch()
	}
}

func (t *BPlusTree[K]) unlatch(frame *buffer.Frame, exclusive bool) {
	if exclusive {
		frame.WUnlatch()
	} else {
		frame.RUnlatch()
	}
}

func (t *BPlusTree[K]) splitLeaf(frame *buffer.Frame, leaf *treePage[K], ctx *opContext) error {
	newFrame, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	newFrame.WLatch()
	ctx.addFrame(newFrame)

	newLeaf := newLeafPage[K](newFrame.PageId(), leaf.Parent, t.leafMaxSize)
	leaf.moveLeafHalfTo(newLeaf)
	newLeaf.Next = leaf.Next
	leaf.Next = newLeaf.PageId

	if err := t.storeNode(frame, leaf); err != nil {
		return err
	}
	if err := t.storeNode(newFrame, newLeaf); err != nil {
		return err
	}

	return t.insertIntoParent(frame, leaf, newLeaf.Keys[0], newFrame, newLeaf, ctx)
}

// insertIntoParent installs the separator for a freshly split node,
// splitting ancestors as needed. The whole unsafe path is write
// latched by ctx, so parents are re-pinned without re-latching.
func (t *BPlusTree[K]) insertIntoParent(childFrame *buffer.Frame, child *treePage[K], key K, newFrame *buffer.Frame, newPage *treePage[K], ctx *opContext) error {
	if child.isRootPage() {
		rootFrame, err := t.bpm.NewPage()
		if err != nil {
			return err
		}
		rootId := rootFrame.PageId()

		var sentinel K
		root := newInternalPage[K](rootId, disk.INVALID_PAGE_ID, t.internalMaxSize)
		root.Keys = []K{sentinel, key}
		root.Children = []disk.PageId{child.PageId, newPage.PageId}
		root.Size = 2

		child.Parent = rootId
		newPage.Parent = rootId

		if err := t.storeNode(childFrame, child); err == nil {
			err = t.storeNode(newFrame, newPage)
		}
		if err == nil {
			err = t.storeNode(rootFrame, root)
		}
		if err != nil {
			t.bpm.UnpinPage(rootId, false)
			return err
		}

		t.bpm.UnpinPage(rootId, true)
		return t.setRootPageId(rootId)
	}

	parentId := child.Parent
	parentFrame, err := t.bpm.FetchPage(parentId)
	if err != nil {
		return err
	}
	defer t.bpm.UnpinPage(parentId, true)

	parent, err := t.loadNode(parentFrame)
	if err != nil {
		return err
	}

	parent.insertInternal(key, newPage.PageId)
	if parent.getSize() <= int(parent.MaxSize) {
		return t.storeNode(parentFrame, parent)
	}

	// parent overflowed, split it and push the separator further up
	npFrame, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	npFrame.WLatch()
	ctx.addFrame(npFrame)

	np := newInternalPage[K](npFrame.PageId(), parent.Parent, t.internalMaxSize)
	parent.moveInternalHalfTo(np)

	if err := t.storeNode(parentFrame, parent); err != nil {
		return err
	}
	if err := t.storeNode(npFrame, np); err != nil {
		return err
	}
	if err := t.reparentChildren(np); err != nil {
		return err
	}

	return t.insertIntoParent(parentFrame, parent, np.Keys[0], npFrame, np, ctx)
}

func (t *BPlusTree[K]) reparentChildren(page *treePage[K]) error {
	for _, childId := range page.Children {
		if err := t.reparentChild(childId, page.PageId); err != nil {
			return err
		}
	}
	return nil
}

// deleteEntry removes key from the node and restores occupancy
// invariants, recursing into the parent when a merge removes a
// separator.
func (t *BPlusTree[K]) deleteEntry(frame *buffer.Frame, page *treePage[K], key K, ctx *opContext) error {
	if page.isLeafPage() {
		page.removeLeaf(key)
	} else {
		page.removeInternal(key)
	}
	if err := t.storeNode(frame, page); err != nil {
		return err
	}

	if page.isRootPage() {
		return t.collapseRoot(page, ctx)
	}
	if page.getSize() >= page.minSize() {
		return nil
	}

	parentId := page.Parent
	parentFrame, err := t.bpm.FetchPage(parentId)
	if err != nil {
		return err
	}
	defer t.bpm.UnpinPage(parentId, true)

	parent, err := t.loadNode(parentFrame)
	if err != nil {
		return err
	}

	var leftFrame, rightFrame *buffer.Frame
	var left, right *treePage[K]

	if leftId := parent.leftSiblingOf(page.PageId); leftId != disk.INVALID_PAGE_ID {
		leftFrame, left, err = t.latchSibling(leftId, ctx)
		if err != nil {
			return err
		}
	}
	if rightId := parent.rightSiblingOf(page.PageId); rightId != disk.INVALID_PAGE_ID {
		rightFrame, right, err = t.latchSibling(rightId, ctx)
		if err != nil {
			return err
		}
	}

	combined := page.maxMergeableSize()
	switch {
	case left != nil && left.getSize()+page.getSize() >= combined:
		return t.borrowFromLeft(parentFrame, parent, leftFrame, left, frame, page)
	case right != nil && right.getSize()+page.getSize() >= combined:
		return t.borrowFromRight(parentFrame, parent, frame, page, rightFrame, right)
	case left != nil:
		return t.mergeInto(parentFrame, parent, leftFrame, left, frame, page, ctx)
	default:
		return t.mergeInto(parentFrame, parent, frame, page, rightFrame, right, ctx)
	}
}

func (t *BPlusTree[K]) collapseRoot(page *treePage[K], ctx *opContext) error {
	if page.isLeafPage() && page.getSize() == 0 {
		ctx.markDeleted(page.PageId)
		return t.setRootPageId(disk.INVALID_PAGE_ID)
	}

	if !page.isLeafPage() && page.getSize() == 1 {
		childId := page.Children[0]

		childFrame, err := t.bpm.FetchPage(childId)
		if err != nil {
			return err
		}
		child, err := t.loadNode(childFrame)
		if err == nil {
			child.Parent = disk.INVALID_PAGE_ID
			err = t.storeNode(childFrame, child)
		}
		t.bpm.UnpinPage(childId, err == nil)
		if err != nil {
			return err
		}

		ctx.markDeleted(page.PageId)
		return t.setRootPageId(childId)
	}

	return nil
}

// borrowFromLeft rotates the left sibling's last entry into page.
// The separator key moves through the parent: the sibling's last key
// becomes the new separator.
func (t *BPlusTree[K]) borrowFromLeft(parentFrame *buffer.Frame, parent *treePage[K], leftFrame *buffer.Frame, left *treePage[K], pageFrame *buffer.Frame, page *treePage[K]) error {
	idx := parent.childIndex(page.PageId)

	if page.isLeafPage() {
		key, rid := left.removeLastLeaf()
		page.prependLeaf(key, rid)
		parent.Keys[idx] = key
	} else {
		key, child := left.removeLastInternal()
		page.prependInternal(parent.Keys[idx], child)
		parent.Keys[idx] = key

		if err := t.reparentChild(child, page.PageId); err != nil {
			return err
		}
	}

	if err := t.storeNode(leftFrame, left); err != nil {
		return err
	}
	if err := t.storeNode(pageFrame, page); err != nil {
		return err
	}
	return t.storeNode(parentFrame, parent)
}

// borrowFromRight rotates the right sibling's first entry into page.
func (t *BPlusTree[K]) borrowFromRight(parentFrame *buffer.Frame, parent *treePage[K], pageFrame *buffer.Frame, page *treePage[K], rightFrame *buffer.Frame, right *treePage[K]) error {
	idx := parent.childIndex(right.PageId)

	if page.isLeafPage() {
		key, rid := right.removeFirstLeaf()
		page.appendLeaf(key, rid)
		parent.Keys[idx] = right.Keys[0]
	} else {
		key, child := right.popFirstInternal()
		page.appendInternal(parent.Keys[idx], child)
		parent.Keys[idx] = key

		if err := t.reparentChild(child, page.PageId); err != nil {
			return err
		}
	}

	if err := t.storeNode(rightFrame, right); err != nil {
		return err
	}
	if err := t.storeNode(pageFrame, page); err != nil {
		return err
	}
	return t.storeNode(parentFrame, parent)
}

// mergeInto concatenates src (the right neighbor) into dst, pulling
// the separator down for internal nodes, then removes the stale
// separator from the parent. src is freed once all latches drop.
func (t *BPlusTree[K]) mergeInto(parentFrame *buffer.Frame, parent *treePage[K], dstFrame *buffer.Frame, dst *treePage[K], srcFrame *buffer.Frame, src *treePage[K], ctx *opContext) error {
	idx := parent.childIndex(src.PageId)
	sepKey := parent.Keys[idx]

	if dst.isLeafPage() {
		dst.Keys = append(dst.Keys, src.Keys...)
		dst.Rids = append(dst.Rids, src.Rids...)
		dst.Size += src.Size
		dst.Next = src.Next
	} else {
		sepSlot := dst.getSize()
		dst.Keys = append(dst.Keys, src.Keys...)
		dst.Keys[sepSlot] = sepKey
		dst.Children = append(dst.Children, src.Children...)
		dst.Size += src.Size

		for _, childId := range src.Children {
			if err := t.reparentChild(childId, dst.PageId); err != nil {
				return err
			}
		}
	}

	if err := t.storeNode(dstFrame, dst); err != nil {
		return err
	}

	ctx.markDeleted(src.PageId)
	return t.deleteEntry(parentFrame, parent, sepKey, ctx)
}

func (t *BPlusTree[K]) reparentChild(childId, parentId disk.PageId) error {
	childFrame, err := t.bpm.FetchPage(childId)
	if err != nil {
		return err
	}

	child, err := t.loadNode(childFrame)
	if err == nil {
		child.Parent = parentId
		err = t.storeNode(childFrame, child)
	}
	t.bpm.UnpinPage(childId, err == nil)
	return err
}

// Begin returns an iterator at the leftmost entry.
func (t *BPlusTree[K]) Begin() (*IndexIterator[K], error) {
	var zero K
	return t.beginAt(zero, descendLeft, 0)
}

// BeginFrom returns an iterator positioned at the first entry with
// key' >= key.
func (t *BPlusTree[K]) BeginFrom(key K) (*IndexIterator[K], error) {
	return t.beginAt(key, descendKey, -1)
}

// End returns the one-past-last sentinel iterator.
func (t *BPlusTree[K]) End() *IndexIterator[K] {
	return &IndexIterator[K]{bpm: t.bpm}
}

func (t *BPlusTree[K]) beginAt(key K, direction int, pos int) (*IndexIterator[K], error) {
	ctx := newOpContext(opRead)
	t.lockRoot(ctx)

	if t.rootPageId == disk.INVALID_PAGE_ID {
		t.release(ctx)
		return &IndexIterator[K]{bpm: t.bpm}, nil
	}

	frame, page, err := t.findLeaf(key, direction, ctx)
	if err != nil {
		t.release(ctx)
		return nil, err
	}

	// hand the latched leaf over to the iterator, drop everything else
	ctx.frames = ctx.frames[:len(ctx.frames)-1]
	t.release(ctx)

	if pos < 0 {
		pos = page.keyIndex(key)
	}

	it := &IndexIterator[K]{bpm: t.bpm, frame: frame, page: page, pos: pos}
	if err := it.advanceLeaf(); err != nil {
		return nil, err
	}
	return it, nil
}

func (t *BPlusTree[K]) setRootPageId(pageId disk.PageId) error {
	t.rootPageId = pageId

	headerFrame, err := t.bpm.FetchPage(HEADER_PAGE_ID)
	if err != nil {
		return err
	}
	headerFrame.WLatch()

	header, err := util.FromPageImage[headerPage](headerFrame.Data)
	if err == nil {
		header.setRoot(t.indexName, pageId)
		var img []byte
		if img, err = util.ToPageImage(header); err == nil {
			copy(headerFrame.Data, img)
		}
	}

	headerFrame.WUnlatch()
	t.bpm.UnpinPage(HEADER_PAGE_ID, err == nil)
	return err
}

func (t *BPlusTree[K]) loadNode(frame *buffer.Frame) (*treePage[K], error) {
	page, err := util.FromPageImage[treePage[K]](frame.Data)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (t *BPlusTree[K]) storeNode(frame *buffer.Frame, page *treePage[K]) error {
	img, err := util.ToPageImage(*page)
	if err != nil {
		return err
	}
	copy(frame.Data, img)
	return nil
}
