package concurrency

import (
	"testing"
	"time"

	"github.com/jobala/basalt/storage/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTable TableOid = 1

func newTestLockManager(t *testing.T, interval time.Duration) (*TransactionManager, *LockManager) {
	t.Helper()

	tm := NewTransactionManager()
	lm := NewLockManager(tm, interval)
	t.Cleanup(lm.Close)

	return tm, lm
}

// quietInterval keeps the detector asleep for tests that don't need it.
const quietInterval = time.Hour

func TestLockTable(t *testing.T) {
	t.Run("repeated identical requests are idempotent", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(RepeatableRead)

		assert.NoError(t, lm.LockTable(txn, Shared, testTable))
		assert.NoError(t, lm.LockTable(txn, Shared, testTable))

		q := lm.tableQueue(testTable)
		q.mu.Lock()
		assert.Len(t, q.requests, 1)
		q.mu.Unlock()

		assert.True(t, txn.HoldsTableLock(testTable, Shared))
		assert.NoError(t, lm.UnlockTable(txn, testTable))
		assert.False(t, txn.HoldsTableLock(testTable, Shared))
	})

	t.Run("compatible modes are granted together", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		t1 := tm.Begin(RepeatableRead)
		t2 := tm.Begin(RepeatableRead)
		t3 := tm.Begin(RepeatableRead)

		assert.NoError(t, lm.LockTable(t1, IntentionShared, testTable))
		assert.NoError(t, lm.LockTable(t2, IntentionExclusive, testTable))
		assert.NoError(t, lm.LockTable(t3, IntentionShared, testTable))
	})

	t.Run("a shared lock upgrade waits for other readers", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		t1 := tm.Begin(RepeatableRead)
		t2 := tm.Begin(RepeatableRead)

		require.NoError(t, lm.LockTable(t1, Shared, testTable))
		require.NoError(t, lm.LockTable(t2, Shared, testTable))

		upgraded := make(chan error, 1)
		go func() {
			upgraded <- lm.LockTable(t1, Exclusive, testTable)
		}()

		select {
		case err := <-upgraded:
			t.Fatalf("upgrade granted while another shared lock was held: %v", err)
		case <-time.After(100 * time.Millisecond):
		}

		require.NoError(t, lm.UnlockTable(t2, testTable))

		select {
		case err := <-upgraded:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("upgrade was never granted")
		}
		assert.True(t, t1.HoldsTableLock(testTable, Exclusive))
		assert.False(t, t1.HoldsTableLock(testTable, Shared))

		// a later shared request waits for the exclusive holder
		t3 := tm.Begin(RepeatableRead)
		blocked := make(chan error, 1)
		go func() {
			blocked <- lm.LockTable(t3, Shared, testTable)
		}()

		select {
		case err := <-blocked:
			t.Fatalf("shared lock granted alongside exclusive: %v", err)
		case <-time.After(100 * time.Millisecond):
		}

		require.NoError(t, lm.UnlockTable(t1, testTable))
		select {
		case err := <-blocked:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("shared lock was never granted")
		}
	})

	t.Run("only one upgrade may be in flight per queue", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		t1 := tm.Begin(RepeatableRead)
		t2 := tm.Begin(RepeatableRead)

		require.NoError(t, lm.LockTable(t1, Shared, testTable))
		require.NoError(t, lm.LockTable(t2, Shared, testTable))

		upgraded := make(chan error, 1)
		go func() {
			upgraded <- lm.LockTable(t1, Exclusive, testTable)
		}()

		assert.Eventually(t, func() bool {
			q := lm.tableQueue(testTable)
			q.mu.Lock()
			defer q.mu.Unlock()
			return q.upgrading == t1.Id()
		}, time.Second, time.Millisecond)

		err := lm.LockTable(t2, Exclusive, testTable)
		var abort *TxnAbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, UpgradeConflict, abort.Reason)
		assert.Equal(t, Aborted, t2.State())

		// the aborted transaction's lock is released by its executor
		require.NoError(t, lm.UnlockTable(t2, testTable))
		assert.NoError(t, <-upgraded)
	})

	t.Run("disallowed upgrade paths abort", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(RepeatableRead)

		require.NoError(t, lm.LockTable(txn, Exclusive, testTable))

		err := lm.LockTable(txn, Shared, testTable)
		var abort *TxnAbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, IncompatibleUpgrade, abort.Reason)
		assert.Equal(t, Aborted, txn.State())
	})

	t.Run("unlocking a lock that is not held aborts", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(RepeatableRead)

		err := lm.UnlockTable(txn, testTable)
		var abort *TxnAbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, AttemptedUnlockButNoLockHeld, abort.Reason)
	})
}

func TestIsolationPolicy(t *testing.T) {
	t.Run("read uncommitted rejects shared locks", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)

		for _, mode := range []LockMode{Shared, IntentionShared, SharedIntentionExclusive} {
			txn := tm.Begin(ReadUncommitted)
			err := lm.LockTable(txn, mode, testTable)

			var abort *TxnAbortError
			require.ErrorAs(t, err, &abort)
			assert.Equal(t, LockSharedOnReadUncommitted, abort.Reason)
			assert.Equal(t, Aborted, txn.State())
		}
	})

	t.Run("repeatable read aborts any lock while shrinking", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(RepeatableRead)

		require.NoError(t, lm.LockTable(txn, Shared, testTable))
		require.NoError(t, lm.UnlockTable(txn, testTable))
		assert.Equal(t, Shrinking, txn.State())

		err := lm.LockTable(txn, Shared, testTable)
		var abort *TxnAbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, LockOnShrinking, abort.Reason)
	})

	t.Run("read committed still grants shared locks while shrinking", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(ReadCommitted)

		require.NoError(t, lm.LockTable(txn, Exclusive, testTable))
		require.NoError(t, lm.UnlockTable(txn, testTable))
		assert.Equal(t, Shrinking, txn.State())

		assert.NoError(t, lm.LockTable(txn, Shared, testTable))

		err := lm.LockTable(txn, Exclusive, testTable)
		var abort *TxnAbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, LockOnShrinking, abort.Reason)
	})

	t.Run("shared release keeps read committed in the growing phase", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(ReadCommitted)

		require.NoError(t, lm.LockTable(txn, Shared, testTable))
		require.NoError(t, lm.UnlockTable(txn, testTable))
		assert.Equal(t, Growing, txn.State())
	})
}

func TestRowLocks(t *testing.T) {
	rid := disk.Rid{PageId: 3, Slot: 7}

	t.Run("intention modes are rejected on rows", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(RepeatableRead)

		err := lm.LockRow(txn, IntentionExclusive, testTable, rid)
		var abort *TxnAbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, AttemptedIntentionLockOnRow, abort.Reason)
	})

	t.Run("an exclusive row lock needs a strong table lock", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(RepeatableRead)

		require.NoError(t, lm.LockTable(txn, IntentionShared, testTable))

		err := lm.LockRow(txn, Exclusive, testTable, rid)
		var abort *TxnAbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, TableLockNotPresent, abort.Reason)
	})

	t.Run("a shared row lock needs any table lock", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(RepeatableRead)

		err := lm.LockRow(txn, Shared, testTable, rid)
		var abort *TxnAbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, TableLockNotPresent, abort.Reason)

		txn2 := tm.Begin(RepeatableRead)
		require.NoError(t, lm.LockTable(txn2, IntentionShared, testTable))
		assert.NoError(t, lm.LockRow(txn2, Shared, testTable, rid))
		assert.True(t, txn2.HoldsRowLock(testTable, rid, Shared))
	})

	t.Run("rows upgrade from shared to exclusive only", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(RepeatableRead)

		require.NoError(t, lm.LockTable(txn, IntentionExclusive, testTable))
		require.NoError(t, lm.LockRow(txn, Shared, testTable, rid))
		require.NoError(t, lm.LockRow(txn, Exclusive, testTable, rid))

		assert.True(t, txn.HoldsRowLock(testTable, rid, Exclusive))
		assert.False(t, txn.HoldsRowLock(testTable, rid, Shared))
	})

	t.Run("a table unlocks only after its rows", func(t *testing.T) {
		tm, lm := newTestLockManager(t, quietInterval)
		txn := tm.Begin(RepeatableRead)

		require.NoError(t, lm.LockTable(txn, IntentionExclusive, testTable))
		require.NoError(t, lm.LockRow(txn, Exclusive, testTable, rid))

		err := lm.UnlockTable(txn, testTable)
		var abort *TxnAbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, TableUnlockedBeforeUnlockingRows, abort.Reason)

		txn2 := tm.Begin(RepeatableRead)
		require.NoError(t, lm.LockTable(txn2, IntentionExclusive, testTable))
		require.NoError(t, lm.LockRow(txn2, Exclusive, testTable, disk.Rid{PageId: 4, Slot: 1}))
		require.NoError(t, lm.UnlockRow(txn2, testTable, disk.Rid{PageId: 4, Slot: 1}))
		assert.NoError(t, lm.UnlockTable(txn2, testTable))
	})
}
