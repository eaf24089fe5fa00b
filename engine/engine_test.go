package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/txncore/common"
	"mit.edu/dsg/txncore/logging"
	"mit.edu/dsg/txncore/transaction"
)

func TestBeginRegistersInActiveTransactionTable(t *testing.T) {
	e := NewEngine(false, logging.NoopLogManager{})

	t1, err := e.Begin()
	require.NoError(t, err)
	t2, err := e.Begin()
	require.NoError(t, err)

	active := e.ActiveTransactions()
	require.Len(t, active, 2)
	assert.Equal(t, t1.ID(), active[0].ID)
	assert.Equal(t, t2.ID(), active[1].ID)
	assert.Less(t, active[0].ID, active[1].ID)
}

func TestCommitReleasesLocksAndRemovesFromATT(t *testing.T) {
	e := NewEngine(false, logging.NoopLogManager{})
	r := common.RecordID{PageNum: 1, Slot: 0}

	t1, err := e.Begin()
	require.NoError(t, err)
	require.True(t, e.LockManager().LockExclusive(t1, r))

	require.NoError(t, e.Commit(t1))
	assert.Equal(t, transaction.StateCommitted, t1.State())
	assert.Empty(t, e.ActiveTransactions())

	// The lock must actually be free: a fresh transaction can take it.
	t2, err := e.Begin()
	require.NoError(t, err)
	assert.True(t, e.LockManager().LockExclusive(t2, r))
}

func TestAbortReleasesLocksAndRemovesFromATT(t *testing.T) {
	e := NewEngine(false, logging.NoopLogManager{})
	r := common.RecordID{PageNum: 1, Slot: 0}

	t1, err := e.Begin()
	require.NoError(t, err)
	require.True(t, e.LockManager().LockShared(t1, r))

	require.NoError(t, e.Abort(t1))
	assert.Equal(t, transaction.StateAborted, t1.State())
	assert.Empty(t, e.ActiveTransactions())

	t2, err := e.Begin()
	require.NoError(t, err)
	assert.True(t, e.LockManager().LockExclusive(t2, r))
}

func TestCommitWaitsForDurability(t *testing.T) {
	mem := logging.NewMemoryLogManager()
	e := NewEngine(true, mem)

	t1, err := e.Begin()
	require.NoError(t, err)

	require.NoError(t, e.Commit(t1))
	// The COMMIT record directly follows the BEGIN record, so its LSN is
	// BeginRecordSize().
	assert.GreaterOrEqual(t, mem.FlushedUntil(), common.LSN(logging.BeginRecordSize()))
}
