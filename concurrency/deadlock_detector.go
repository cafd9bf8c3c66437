package concurrency

import (
	"slices"
	"time"

	"github.com/jobala/basalt/storage/disk"
)

// The detector wakes on a fixed interval, rebuilds the wait-for graph
// from the live lock queues and aborts the youngest transaction of
// every cycle it finds. It only flips transaction state; the waiting
// goroutine observes the abort on wakeup and unwinds itself.
func (lm *LockManager) runCycleDetection() {
	defer close(lm.doneCh)

	ticker := time.NewTicker(lm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopCh:
			return
		case <-ticker.C:
			lm.detectDeadlocks()
		}
	}
}

func (lm *LockManager) detectDeadlocks() {
	lm.buildWaitsForGraph()

	for {
		victim, ok := lm.findCycleVictim()
		if !ok {
			break
		}

		logger.Info("deadlock detected, aborting transaction ", victim)
		if txn := lm.txnMgr.Get(victim); txn != nil {
			txn.SetState(Aborted)
		}

		lm.waitsMu.Lock()
		delete(lm.waitsFor, victim)
		lm.waitsMu.Unlock()

		lm.wakeWaiter(victim)
	}

	// every auxiliary structure is rebuilt from scratch next tick
	lm.waitsMu.Lock()
	lm.waitsFor = map[TxnId][]TxnId{}
	lm.txnTables = map[TxnId]TableOid{}
	lm.txnRows = map[TxnId]disk.Rid{}
	lm.waitsMu.Unlock()
}

// buildWaitsForGraph adds an edge waiter -> holder for every pending
// request that is incompatible with a granted one on the same queue,
// and remembers which resource each waiter is parked on.
func (lm *LockManager) buildWaitsForGraph() {
	lm.tableMu.Lock()
	tableQueues := make(map[TableOid]*lockQueue, len(lm.tableQueues))
	for oid, q := range lm.tableQueues {
		tableQueues[oid] = q
	}
	lm.tableMu.Unlock()

	for oid, q := range tableQueues {
		q.mu.Lock()
		for _, waiting := range q.requests {
			if waiting.granted {
				continue
			}

			lm.waitsMu.Lock()
			lm.txnTables[waiting.txnId] = oid
			lm.waitsMu.Unlock()

			for _, granted := range q.requests {
				if granted.granted && !compatible(granted.mode, waiting.mode) {
					lm.AddEdge(waiting.txnId, granted.txnId)
				}
			}
		}
		q.mu.Unlock()
	}

	lm.rowMu.Lock()
	rowQueues := make(map[disk.Rid]*lockQueue, len(lm.rowQueues))
	for rid, q := range lm.rowQueues {
		rowQueues[rid] = q
	}
	lm.rowMu.Unlock()

	for rid, q := range rowQueues {
		q.mu.Lock()
		for _, waiting := range q.requests {
			if waiting.granted {
				continue
			}

			lm.waitsMu.Lock()
			lm.txnRows[waiting.txnId] = rid
			lm.waitsMu.Unlock()

			for _, granted := range q.requests {
				if granted.granted && !compatible(granted.mode, waiting.mode) {
					lm.AddEdge(waiting.txnId, granted.txnId)
				}
			}
		}
		q.mu.Unlock()
	}
}

// findCycleVictim runs a DFS over transaction ids in sorted order for
// determinism. The victim is the largest txn id on the cycle.
func (lm *LockManager) findCycleVictim() (TxnId, bool) {
	lm.waitsMu.Lock()
	defer lm.waitsMu.Unlock()

	nodes := make([]TxnId, 0, len(lm.waitsFor))
	for node := range lm.waitsFor {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)

	visited := map[TxnId]bool{}
	onPath := map[TxnId]bool{}
	var path []TxnId

	var dfs func(node TxnId) (TxnId, bool)
	dfs = func(node TxnId) (TxnId, bool) {
		onPath[node] = true
		path = append(path, node)

		neighbors := slices.Clone(lm.waitsFor[node])
		slices.Sort(neighbors)

		for _, next := range neighbors {
			if onPath[next] {
				start := slices.Index(path, next)
				victim := slices.Max(path[start:])
				return victim, true
			}
			if !visited[next] {
				if victim, ok := dfs(next); ok {
					return victim, true
				}
			}
		}

		visited[node] = true
		onPath[node] = false
		path = path[:len(path)-1]
		return INVALID_TXN_ID, false
	}

	for _, node := range nodes {
		if visited[node] {
			continue
		}
		if victim, ok := dfs(node); ok {
			return victim, true
		}
		path = path[:0]
	}

	return INVALID_TXN_ID, false
}

// wakeWaiter broadcasts the queue the victim is blocked on so its
// goroutine can observe the abort.
func (lm *LockManager) wakeWaiter(txnId TxnId) {
	lm.waitsMu.Lock()
	oid, hasTable := lm.txnTables[txnId]
	rid, hasRow := lm.txnRows[txnId]
	lm.waitsMu.Unlock()

	if hasTable {
		lm.tableMu.Lock()
		q := lm.tableQueues[oid]
		lm.tableMu.Unlock()
		if q != nil {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		}
	}

	if hasRow {
		lm.rowMu.Lock()
		q := lm.rowQueues[rid]
		lm.rowMu.Unlock()
		if q != nil {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		}
	}
}

func (lm *LockManager) AddEdge(t1, t2 TxnId) {
	lm.waitsMu.Lock()
	defer lm.waitsMu.Unlock()

	if !slices.Contains(lm.waitsFor[t1], t2) {
		lm.waitsFor[t1] = append(lm.waitsFor[t1], t2)
	}
}

func (lm *LockManager) RemoveEdge(t1, t2 TxnId) {
	lm.waitsMu.Lock()
	defer lm.waitsMu.Unlock()

	if idx := slices.Index(lm.waitsFor[t1], t2); idx >= 0 {
		lm.waitsFor[t1] = slices.Delete(lm.waitsFor[t1], idx, idx+1)
	}
}

func (lm *LockManager) GetEdgeList() [][2]TxnId {
	lm.waitsMu.Lock()
	defer lm.waitsMu.Unlock()

	edges := [][2]TxnId{}
	for t1, targets := range lm.waitsFor {
		for _, t2 := range targets {
			edges = append(edges, [2]TxnId{t1, t2})
		}
	}
	return edges
}
