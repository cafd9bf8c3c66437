package concurrency

import (
	"fmt"
	"sync"
	"time"

	"github.com/jobala/basalt/storage/disk"
	"github.com/jobala/basalt/util"
	"github.com/krotik/common/logutil"
)

var logger = logutil.GetLogger("basalt.lock")

type lockRequest struct {
	txnId   TxnId
	mode    LockMode
	oid     TableOid
	rid     disk.Rid
	onTable bool
	granted bool
}

// lockQueue is the per-resource FIFO request queue. Grants respect
// arrival order except for the single in-flight upgrade, which is
// re-queued ahead of every pending request.
type lockQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*lockRequest
	upgrading TxnId
}

func newLockQueue() *lockQueue {
	q := &lockQueue{upgrading: INVALID_TXN_ID}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *lockQueue) findByTxn(txnId TxnId) *lockRequest {
	for _, req := range q.requests {
		if req.txnId == txnId {
			return req
		}
	}
	return nil
}

func (q *lockQueue) findGranted(txnId TxnId) *lockRequest {
	for _, req := range q.requests {
		if req.txnId == txnId && req.granted {
			return req
		}
	}
	return nil
}

func (q *lockQueue) removeRequest(target *lockRequest) {
	for i, req := range q.requests {
		if req == target {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

func (q *lockQueue) insertBeforePending(req *lockRequest) {
	for i, r := range q.requests {
		if !r.granted {
			q.requests = append(q.requests[:i], append([]*lockRequest{req}, q.requests[i:]...)...)
			return
		}
	}
	q.requests = append(q.requests, req)
}

// canGrant walks the queue from the head: the request is grantable
// iff it is compatible with every granted request and every pending
// request queued ahead of it.
func (q *lockQueue) canGrant(target *lockRequest) bool {
	for _, req := range q.requests {
		if req == target {
			return true
		}
		if !compatible(req.mode, target.mode) {
			return false
		}
	}
	return false
}

// LockManager provides hierarchical table/row locks with upgrade
// support, isolation-level policy enforcement and background deadlock
// detection.
type LockManager struct {
	tableMu     sync.Mutex
	tableQueues map[TableOid]*lockQueue
	rowMu       sync.Mutex
	rowQueues   map[disk.Rid]*lockQueue

	txnMgr   *TransactionManager
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}

	waitsMu   sync.Mutex
	waitsFor  map[TxnId][]TxnId
	txnTables map[TxnId]TableOid
	txnRows   map[TxnId]disk.Rid
}

func NewLockManager(txnMgr *TransactionManager, cycleDetectionInterval time.Duration) *LockManager {
	lm := &LockManager{
		tableQueues: map[TableOid]*lockQueue{},
		rowQueues:   map[disk.Rid]*lockQueue{},
		txnMgr:      txnMgr,
		interval:    cycleDetectionInterval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		waitsFor:    map[TxnId][]TxnId{},
		txnTables:   map[TxnId]TableOid{},
		txnRows:     map[TxnId]disk.Rid{},
	}

	go lm.runCycleDetection()
	return lm
}

func (lm *LockManager) Close() {
	close(lm.stopCh)
	<-lm.doneCh
}

// LockTable acquires mode on the table, blocking until the request is
// grantable or the transaction is aborted. Re-requesting a held mode
// is idempotent.
func (lm *LockManager) LockTable(txn *Transaction, mode LockMode, oid TableOid) error {
	if err := lm.checkPolicy(txn, mode); err != nil {
		return err
	}

	q := lm.tableQueue(oid)
	q.mu.Lock()

	if existing := q.findByTxn(txn.Id()); existing != nil {
		if existing.mode == mode {
			q.mu.Unlock()
			return nil
		}
		if q.upgrading != INVALID_TXN_ID {
			q.mu.Unlock()
			return lm.abort(txn, UpgradeConflict)
		}
		if !upgradeAllowed(existing.mode, mode) {
			q.mu.Unlock()
			return lm.abort(txn, IncompatibleUpgrade)
		}

		q.removeRequest(existing)
		txn.removeTableLock(existing.mode, oid)

		req := &lockRequest{txnId: txn.Id(), mode: mode, oid: oid, onTable: true}
		q.insertBeforePending(req)
		q.upgrading = txn.Id()
		return lm.waitForGrant(txn, q, req, true)
	}

	req := &lockRequest{txnId: txn.Id(), mode: mode, oid: oid, onTable: true}
	q.requests = append(q.requests, req)
	return lm.waitForGrant(txn, q, req, false)
}

// UnlockTable releases the granted table lock, aborting if row locks
// under the table are still held or no lock is held at all.
func (lm *LockManager) UnlockTable(txn *Transaction, oid TableOid) error {
	lm.tableMu.Lock()
	q, ok := lm.tableQueues[oid]
	lm.tableMu.Unlock()
	if !ok {
		return lm.abort(txn, AttemptedUnlockButNoLockHeld)
	}

	if txn.hasRowLocksOn(oid) {
		return lm.abort(txn, TableUnlockedBeforeUnlockingRows)
	}

	q.mu.Lock()
	req := q.findGranted(txn.Id())
	if req == nil {
		q.mu.Unlock()
		return lm.abort(txn, AttemptedUnlockButNoLockHeld)
	}

	q.removeRequest(req)
	q.cond.Broadcast()
	q.mu.Unlock()

	lm.maybeShrink(txn, req.mode)
	txn.removeTableLock(req.mode, oid)
	return nil
}

// LockRow acquires S or X on a row. The parent table must already be
// locked: any mode for S, one of X/IX/SIX for X.
func (lm *LockManager) LockRow(txn *Transaction, mode LockMode, oid TableOid, rid disk.Rid) error {
	if mode != Shared && mode != Exclusive {
		return lm.abort(txn, AttemptedIntentionLockOnRow)
	}
	if err := lm.checkPolicy(txn, mode); err != nil {
		return err
	}

	if mode == Exclusive {
		if !txn.HoldsAnyTableLock(oid, Exclusive, IntentionExclusive, SharedIntentionExclusive) {
			return lm.abort(txn, TableLockNotPresent)
		}
	} else if !txn.HoldsAnyTableLock(oid) {
		return lm.abort(txn, TableLockNotPresent)
	}

	q := lm.rowQueue(rid)
	q.mu.Lock()

	if existing := q.findByTxn(txn.Id()); existing != nil {
		if existing.mode == mode {
			q.mu.Unlock()
			return nil
		}
		if q.upgrading != INVALID_TXN_ID {
			q.mu.Unlock()
			return lm.abort(txn, UpgradeConflict)
		}
		if !upgradeAllowed(existing.mode, mode) {
			q.mu.Unlock()
			return lm.abort(txn, IncompatibleUpgrade)
		}

		q.removeRequest(existing)
		txn.removeRowLock(existing.mode, oid, rid)

		req := &lockRequest{txnId: txn.Id(), mode: mode, oid: oid, rid: rid}
		q.insertBeforePending(req)
		q.upgrading = txn.Id()
		return lm.waitForGrant(txn, q, req, true)
	}

	req := &lockRequest{txnId: txn.Id(), mode: mode, oid: oid, rid: rid}
	q.requests = append(q.requests, req)
	return lm.waitForGrant(txn, q, req, false)
}

func (lm *LockManager) UnlockRow(txn *Transaction, oid TableOid, rid disk.Rid) error {
	lm.rowMu.Lock()
	q, ok := lm.rowQueues[rid]
	lm.rowMu.Unlock()
	if !ok {
		return lm.abort(txn, AttemptedUnlockButNoLockHeld)
	}

	q.mu.Lock()
	req := q.findGranted(txn.Id())
	if req == nil {
		q.mu.Unlock()
		return lm.abort(txn, AttemptedUnlockButNoLockHeld)
	}

	q.removeRequest(req)
	q.cond.Broadcast()
	q.mu.Unlock()

	lm.maybeShrink(txn, req.mode)
	txn.removeRowLock(req.mode, oid, rid)
	return nil
}

// waitForGrant blocks on the queue's condition variable until the
// request can be granted or the transaction is aborted, typically by
// the deadlock detector. Must be entered with q.mu held; releases it.
func (lm *LockManager) waitForGrant(txn *Transaction, q *lockQueue, req *lockRequest, upgrade bool) error {
	for !q.canGrant(req) {
		q.cond.Wait()
		if txn.State() == Aborted {
			if upgrade {
				q.upgrading = INVALID_TXN_ID
			}
			q.removeRequest(req)
			q.cond.Broadcast()
			q.mu.Unlock()
			return newAbortError(txn.Id(), Deadlock)
		}
	}

	if upgrade {
		q.upgrading = INVALID_TXN_ID
	}
	req.granted = true

	if req.onTable {
		txn.addTableLock(req.mode, req.oid)
	} else {
		txn.addRowLock(req.mode, req.oid, req.rid)
	}

	if req.mode != Exclusive {
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	return nil
}

// checkPolicy enforces the 2PL phase and isolation-level rules before
// a request enters any queue.
func (lm *LockManager) checkPolicy(txn *Transaction, mode LockMode) error {
	switch txn.State() {
	case Committed, Aborted:
		return &util.StoreError{Message: fmt.Sprintf("transaction %d is no longer active", txn.Id())}

	case Shrinking:
		switch txn.IsolationLevel() {
		case RepeatableRead:
			return lm.abort(txn, LockOnShrinking)
		case ReadCommitted:
			if mode != Shared && mode != IntentionShared {
				return lm.abort(txn, LockOnShrinking)
			}
		case ReadUncommitted:
			if mode == IntentionExclusive || mode == Exclusive {
				return lm.abort(txn, LockOnShrinking)
			}
			return lm.abort(txn, LockSharedOnReadUncommitted)
		}

	case Growing:
		if txn.IsolationLevel() == ReadUncommitted &&
			(mode == Shared || mode == IntentionShared || mode == SharedIntentionExclusive) {
			return lm.abort(txn, LockSharedOnReadUncommitted)
		}
	}

	return nil
}

func (lm *LockManager) maybeShrink(txn *Transaction, released LockMode) {
	if txn.State() != Growing {
		return
	}

	switch txn.IsolationLevel() {
	case RepeatableRead:
		if released == Shared || released == Exclusive {
			txn.SetState(Shrinking)
		}
	case ReadCommitted, ReadUncommitted:
		if released == Exclusive {
			txn.SetState(Shrinking)
		}
	}
}

func (lm *LockManager) abort(txn *Transaction, reason AbortReason) error {
	txn.SetState(Aborted)
	return newAbortError(txn.Id(), reason)
}

func (lm *LockManager) tableQueue(oid TableOid) *lockQueue {
	lm.tableMu.Lock()
	defer lm.tableMu.Unlock()

	q, ok := lm.tableQueues[oid]
	if !ok {
		q = newLockQueue()
		lm.tableQueues[oid] = q
	}
	return q
}

func (lm *LockManager) rowQueue(rid disk.Rid) *lockQueue {
	lm.rowMu.Lock()
	defer lm.rowMu.Unlock()

	q, ok := lm.rowQueues[rid]
	if !ok {
		q = newLockQueue()
		lm.rowQueues[rid] = q
	}
	return q
}
