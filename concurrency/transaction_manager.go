package concurrency

import "sync"

// TransactionManager creates transactions and resolves txn ids for
// the deadlock detector. Commit and abort only transition state; the
// executor layer is responsible for releasing any locks still held.
type TransactionManager struct {
	mu        sync.Mutex
	nextTxnId TxnId
	txns      map[TxnId]*Transaction
}

func NewTransactionManager() *TransactionManager {
	return &TransactionManager{
		txns: map[TxnId]*Transaction{},
	}
}

func (tm *TransactionManager) Begin(isolation IsolationLevel) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn := newTransaction(tm.nextTxnId, isolation)
	tm.txns[txn.id] = txn
	tm.nextTxnId += 1

	return txn
}

func (tm *TransactionManager) Get(txnId TxnId) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	return tm.txns[txnId]
}

func (tm *TransactionManager) Commit(txn *Transaction) {
	txn.SetState(Committed)
}

func (tm *TransactionManager) Abort(txn *Transaction) {
	txn.SetState(Aborted)
}
