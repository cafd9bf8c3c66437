package concurrency

import (
	"testing"

	"github.com/jobala/basalt/storage/disk"
	"github.com/stretchr/testify/assert"
)

func TestTransactionManager(t *testing.T) {
	t.Run("transactions get increasing ids", func(t *testing.T) {
		tm := NewTransactionManager()

		t0 := tm.Begin(RepeatableRead)
		t1 := tm.Begin(ReadCommitted)

		assert.Equal(t, TxnId(0), t0.Id())
		assert.Equal(t, TxnId(1), t1.Id())
		assert.Equal(t, t0, tm.Get(t0.Id()))
		assert.Nil(t, tm.Get(99))
	})

	t.Run("transactions start growing and transition on commit and abort", func(t *testing.T) {
		tm := NewTransactionManager()

		t0 := tm.Begin(RepeatableRead)
		assert.Equal(t, Growing, t0.State())
		tm.Commit(t0)
		assert.Equal(t, Committed, t0.State())

		t1 := tm.Begin(RepeatableRead)
		tm.Abort(t1)
		assert.Equal(t, Aborted, t1.State())
	})
}

func TestTransactionLockSets(t *testing.T) {
	rid := disk.Rid{PageId: 2, Slot: 5}

	t.Run("table lock sets are kept per mode", func(t *testing.T) {
		txn := newTransaction(0, RepeatableRead)

		txn.addTableLock(IntentionShared, 1)
		txn.addTableLock(Exclusive, 2)

		assert.True(t, txn.HoldsTableLock(1, IntentionShared))
		assert.False(t, txn.HoldsTableLock(1, Shared))
		assert.True(t, txn.HoldsAnyTableLock(2))
		assert.True(t, txn.HoldsAnyTableLock(2, Exclusive, IntentionExclusive))
		assert.False(t, txn.HoldsAnyTableLock(3))

		txn.removeTableLock(IntentionShared, 1)
		assert.False(t, txn.HoldsAnyTableLock(1))
	})

	t.Run("row locks are tracked under their table", func(t *testing.T) {
		txn := newTransaction(0, RepeatableRead)

		txn.addRowLock(Shared, 1, rid)
		assert.True(t, txn.HoldsRowLock(1, rid, Shared))
		assert.True(t, txn.hasRowLocksOn(1))
		assert.False(t, txn.hasRowLocksOn(2))

		txn.removeRowLock(Shared, 1, rid)
		assert.False(t, txn.hasRowLocksOn(1))
	})
}
