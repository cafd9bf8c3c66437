package concurrency

import (
	"fmt"

	"github.com/jobala/basalt/util"
)

// AbortReason explains why the lock manager aborted a transaction.
type AbortReason int

const (
	LockOnShrinking AbortReason = iota
	LockSharedOnReadUncommitted
	UpgradeConflict
	IncompatibleUpgrade
	AttemptedUnlockButNoLockHeld
	TableUnlockedBeforeUnlockingRows
	AttemptedIntentionLockOnRow
	TableLockNotPresent
	Deadlock
)

func (r AbortReason) String() string {
	switch r {
	case LockOnShrinking:
		return "LOCK_ON_SHRINKING"
	case LockSharedOnReadUncommitted:
		return "LOCK_SHARED_ON_READ_UNCOMMITTED"
	case UpgradeConflict:
		return "UPGRADE_CONFLICT"
	case IncompatibleUpgrade:
		return "INCOMPATIBLE_UPGRADE"
	case AttemptedUnlockButNoLockHeld:
		return "ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD"
	case TableUnlockedBeforeUnlockingRows:
		return "TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS"
	case AttemptedIntentionLockOnRow:
		return "ATTEMPTED_INTENTION_LOCK_ON_ROW"
	case TableLockNotPresent:
		return "TABLE_LOCK_NOT_PRESENT"
	case Deadlock:
		return "DEADLOCK"
	}
	return "UNKNOWN"
}

// TxnAbortError is returned whenever a lock operation aborts its
// transaction. The transaction state is set to Aborted before the
// error is handed back.
type TxnAbortError struct {
	*util.StoreError
	TxnId  TxnId
	Reason AbortReason
}

func newAbortError(txnId TxnId, reason AbortReason) *TxnAbortError {
	return &TxnAbortError{
		StoreError: &util.StoreError{
			Message: fmt.Sprintf("transaction %d aborted: %s", txnId, reason),
		},
		TxnId:  txnId,
		Reason: reason,
	}
}
