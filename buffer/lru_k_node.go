package buffer

const INVALID_FRAME_ID = -1

type lrukNode struct {
	prev        *lrukNode
	next        *lrukNode
	frameId     int
	hitCount    int
	isEvictable bool
}

// nodeList is a doubly linked list in insertion order, oldest at the
// front. Sentinel head and tail keep the pointer surgery uniform.
type nodeList struct {
	head *lrukNode
	tail *lrukNode
}

func newNodeList() *nodeList {
	head := &lrukNode{frameId: INVALID_FRAME_ID}
	tail := &lrukNode{frameId: INVALID_FRAME_ID}

	head.next = tail
	tail.prev = head

	return &nodeList{head: head, tail: tail}
}

func (l *nodeList) pushBack(node *lrukNode) {
	back := l.tail.prev

	back.next = node
	node.prev = back
	node.next = l.tail
	l.tail.prev = node
}

func (l *nodeList) remove(node *lrukNode) {
	back := node.prev
	front := node.next

	back.next = front
	front.prev = back

	node.prev = nil
	node.next = nil
}

func (l *nodeList) front() *lrukNode {
	if l.head.next == l.tail {
		return nil
	}
	return l.head.next
}
