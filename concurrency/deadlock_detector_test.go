package concurrency

import (
	"testing"
	"time"

	"github.com/jobala/basalt/storage/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitsForGraph(t *testing.T) {
	t.Run("edges can be added, listed and removed", func(t *testing.T) {
		_, lm := newTestLockManager(t, quietInterval)

		lm.AddEdge(0, 1)
		lm.AddEdge(1, 2)
		lm.AddEdge(0, 1)

		assert.ElementsMatch(t, [][2]TxnId{{0, 1}, {1, 2}}, lm.GetEdgeList())

		lm.RemoveEdge(0, 1)
		assert.ElementsMatch(t, [][2]TxnId{{1, 2}}, lm.GetEdgeList())
	})

	t.Run("the largest transaction id on a cycle is the victim", func(t *testing.T) {
		_, lm := newTestLockManager(t, quietInterval)

		lm.AddEdge(0, 1)
		lm.AddEdge(1, 2)
		lm.AddEdge(2, 0)
		lm.AddEdge(3, 0)

		victim, ok := lm.findCycleVictim()
		assert.True(t, ok)
		assert.Equal(t, TxnId(2), victim)
	})

	t.Run("an acyclic graph has no victim", func(t *testing.T) {
		_, lm := newTestLockManager(t, quietInterval)

		lm.AddEdge(0, 1)
		lm.AddEdge(1, 2)
		lm.AddEdge(0, 2)

		_, ok := lm.findCycleVictim()
		assert.False(t, ok)
	})
}

func TestDeadlockDetection(t *testing.T) {
	t.Run("a two transaction cycle aborts the youngest", func(t *testing.T) {
		tm, lm := newTestLockManager(t, 10*time.Millisecond)

		t0 := tm.Begin(RepeatableRead)
		t1 := tm.Begin(RepeatableRead)

		rowA := disk.Rid{PageId: 1, Slot: 0}
		rowB := disk.Rid{PageId: 1, Slot: 1}

		require.NoError(t, lm.LockTable(t0, IntentionExclusive, testTable))
		require.NoError(t, lm.LockTable(t1, IntentionExclusive, testTable))
		require.NoError(t, lm.LockRow(t0, Exclusive, testTable, rowA))
		require.NoError(t, lm.LockRow(t1, Exclusive, testTable, rowB))

		t0Res := make(chan error, 1)
		t1Res := make(chan error, 1)

		go func() {
			t0Res <- lm.LockRow(t0, Exclusive, testTable, rowB)
		}()
		// let t0 enqueue first so the wait-for cycle forms
		time.Sleep(20 * time.Millisecond)
		go func() {
			err := lm.LockRow(t1, Exclusive, testTable, rowA)
			if err != nil {
				// the victim's executor rolls its locks back
				_ = lm.UnlockRow(t1, testTable, rowB)
				_ = lm.UnlockTable(t1, testTable)
			}
			t1Res <- err
		}()

		select {
		case err := <-t1Res:
			var abort *TxnAbortError
			require.ErrorAs(t, err, &abort)
			assert.Equal(t, Deadlock, abort.Reason)
			assert.Equal(t, Aborted, t1.State())
		case <-time.After(2 * time.Second):
			t.Fatal("deadlock was never detected")
		}

		select {
		case err := <-t0Res:
			assert.NoError(t, err)
			assert.True(t, t0.HoldsRowLock(testTable, rowB, Exclusive))
		case <-time.After(2 * time.Second):
			t.Fatal("the surviving transaction was never granted its lock")
		}

		assert.Equal(t, Growing, t0.State())
	})

	t.Run("independent waiters are not aborted", func(t *testing.T) {
		tm, lm := newTestLockManager(t, 10*time.Millisecond)

		t0 := tm.Begin(RepeatableRead)
		t1 := tm.Begin(RepeatableRead)

		require.NoError(t, lm.LockTable(t0, Exclusive, testTable))

		blocked := make(chan error, 1)
		go func() {
			blocked <- lm.LockTable(t1, Shared, testTable)
		}()

		// several detector ticks pass without a cycle
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, Growing, t1.State())

		require.NoError(t, lm.UnlockTable(t0, testTable))

		select {
		case err := <-blocked:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter was never granted after the holder released")
		}
	})
}
