package concurrency

import (
	"sync"

	"github.com/jobala/basalt/storage/disk"
)

type TxnId int32

const INVALID_TXN_ID TxnId = -1

type TableOid int32

type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

type TxnState int

const (
	Growing TxnState = iota
	Shrinking
	Committed
	Aborted
)

// Transaction tracks 2PL state and the locks currently held: one set
// per mode at table granularity plus shared/exclusive row sets keyed
// by table. The deadlock detector flips state from another goroutine,
// so everything is guarded by the transaction's own mutex.
type Transaction struct {
	mu        sync.Mutex
	id        TxnId
	isolation IsolationLevel
	state     TxnState

	sharedTables             map[TableOid]struct{}
	exclusiveTables          map[TableOid]struct{}
	intentionSharedTables    map[TableOid]struct{}
	intentionExclusiveTables map[TableOid]struct{}
	sharedIntentionTables    map[TableOid]struct{}

	sharedRows    map[TableOid]map[disk.Rid]struct{}
	exclusiveRows map[TableOid]map[disk.Rid]struct{}
}

func newTransaction(id TxnId, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:                       id,
		isolation:                isolation,
		state:                    Growing,
		sharedTables:             map[TableOid]struct{}{},
		exclusiveTables:          map[TableOid]struct{}{},
		intentionSharedTables:    map[TableOid]struct{}{},
		intentionExclusiveTables: map[TableOid]struct{}{},
		sharedIntentionTables:    map[TableOid]struct{}{},
		sharedRows:               map[TableOid]map[disk.Rid]struct{}{},
		exclusiveRows:            map[TableOid]map[disk.Rid]struct{}{},
	}
}

func (t *Transaction) Id() TxnId {
	return t.id
}

func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.isolation
}

func (t *Transaction) State() TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *Transaction) SetState(state TxnState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = state
}

func (t *Transaction) tableLockSet(mode LockMode) map[TableOid]struct{} {
	switch mode {
	case IntentionShared:
		return t.intentionSharedTables
	case IntentionExclusive:
		return t.intentionExclusiveTables
	case Shared:
		return t.sharedTables
	case SharedIntentionExclusive:
		return t.sharedIntentionTables
	default:
		return t.exclusiveTables
	}
}

func (t *Transaction) addTableLock(mode LockMode, oid TableOid) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tableLockSet(mode)[oid] = struct{}{}
}

func (t *Transaction) removeTableLock(mode LockMode, oid TableOid) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.tableLockSet(mode), oid)
}

func (t *Transaction) rowLockSet(mode LockMode) map[TableOid]map[disk.Rid]struct{} {
	if mode == Shared {
		return t.sharedRows
	}
	return t.exclusiveRows
}

func (t *Transaction) addRowLock(mode LockMode, oid TableOid, rid disk.Rid) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := t.rowLockSet(mode)
	if rows[oid] == nil {
		rows[oid] = map[disk.Rid]struct{}{}
	}
	rows[oid][rid] = struct{}{}
}

func (t *Transaction) removeRowLock(mode LockMode, oid TableOid, rid disk.Rid) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rows := t.rowLockSet(mode)[oid]; rows != nil {
		delete(rows, rid)
	}
}

// HoldsTableLock reports whether the transaction holds a table lock
// of exactly the given mode.
func (t *Transaction) HoldsTableLock(oid TableOid, mode LockMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.tableLockSet(mode)[oid]
	return ok
}

// HoldsAnyTableLock reports whether the transaction holds a table
// lock of any of the given modes, or of any mode at all when none are
// given.
func (t *Transaction) HoldsAnyTableLock(oid TableOid, modes ...LockMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(modes) == 0 {
		modes = []LockMode{IntentionShared, IntentionExclusive, Shared, SharedIntentionExclusive, Exclusive}
	}
	for _, mode := range modes {
		if _, ok := t.tableLockSet(mode)[oid]; ok {
			return true
		}
	}
	return false
}

func (t *Transaction) HoldsRowLock(oid TableOid, rid disk.Rid, mode LockMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := t.rowLockSet(mode)[oid]
	if rows == nil {
		return false
	}
	_, ok := rows[rid]
	return ok
}

// hasRowLocksOn reports whether any row lock under the table is still
// held; a table lock cannot be released while its rows are locked.
func (t *Transaction) hasRowLocksOn(oid TableOid) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sharedRows[oid]) > 0 || len(t.exclusiveRows[oid]) > 0
}
