package buffer

import (
	"fmt"
	"sync"
)

// lrukReplacer tracks access history per frame and picks eviction
// victims. Frames with fewer than k recorded accesses live in the
// history list and are evicted before any frame in the cache list;
// within a list the least recently inserted evictable frame wins.
type lrukReplacer struct {
	mu           sync.Mutex
	k            int
	replacerSize int
	currSize     int
	nodeStore    map[int]*lrukNode
	history      *nodeList
	cache        *nodeList
}

func NewLrukReplacer(capacity, k int) *lrukReplacer {
	return &lrukReplacer{
		k:            k,
		replacerSize: capacity,
		nodeStore:    map[int]*lrukNode{},
		history:      newNodeList(),
		cache:        newNodeList(),
	}
}

func (lru *lrukReplacer) recordAccess(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		if len(lru.nodeStore) >= lru.replacerSize {
			return
		}

		node = &lrukNode{frameId: frameId, hitCount: 1}
		lru.history.pushBack(node)
		lru.nodeStore[frameId] = node
		return
	}

	node.hitCount += 1
	if node.hitCount == lru.k {
		lru.history.remove(node)
		lru.cache.pushBack(node)
	} else if node.hitCount > lru.k {
		lru.cache.remove(node)
		lru.cache.pushBack(node)
	}
}

func (lru *lrukReplacer) setEvictable(frameId int, evictable bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		return
	}

	if node.isEvictable && !evictable {
		lru.currSize -= 1
	} else if !node.isEvictable && evictable {
		lru.currSize += 1
	}
	node.isEvictable = evictable
}

func (lru *lrukReplacer) remove(frameId int) error {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		return nil
	}

	if !node.isEvictable {
		return fmt.Errorf("removing a non-evictable frame %d", frameId)
	}

	lru.listOf(node).remove(node)
	delete(lru.nodeStore, frameId)
	lru.currSize -= 1

	return nil
}

func (lru *lrukReplacer) evict() (int, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	for _, list := range []*nodeList{lru.history, lru.cache} {
		for node := list.front(); node != nil; {
			if node.isEvictable {
				list.remove(node)
				delete(lru.nodeStore, node.frameId)
				lru.currSize -= 1
				return node.frameId, true
			}

			if node.next == list.tail {
				break
			}
			node = node.next
		}
	}

	return INVALID_FRAME_ID, false
}

func (lru *lrukReplacer) size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	return lru.currSize
}

func (lru *lrukReplacer) listOf(node *lrukNode) *nodeList {
	if node.hitCount < lru.k {
		return lru.history
	}
	return lru.cache
}
