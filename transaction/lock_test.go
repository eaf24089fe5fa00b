package transaction

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/txncore/common"
)

func rid(n int32) common.RecordID { return common.RecordID{PageNum: n, Slot: 0} }

func TestExclusiveSerialization(t *testing.T) {
	lm := NewLockManager(false)
	r := rid(1)

	t1 := NewTxn(1)
	t2 := NewTxn(2)

	require.True(t, lm.LockExclusive(t1, r))

	ok := lm.LockShared(t2, r)
	assert.False(t, ok)
	assert.Equal(t, StateAborted, t2.State())
}

func TestOlderWaits(t *testing.T) {
	lm := NewLockManager(false)
	r := rid(1)

	t5 := NewTxn(5)
	t2 := NewTxn(2)

	require.True(t, lm.LockExclusive(t5, r))

	done := make(chan bool, 1)
	go func() {
		done <- lm.LockShared(t2, r)
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, lm.Unlock(t5, r))

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("t2 never woke up")
	}
	assert.True(t, t2.SharedLocks().Contains(r))
}

func TestUpgradeSuccess(t *testing.T) {
	lm := NewLockManager(false)
	r := rid(1)
	t1 := NewTxn(1)

	require.True(t, lm.LockShared(t1, r))
	require.True(t, lm.LockUpgrade(t1, r))

	assert.True(t, t1.ExclusiveLocks().Contains(r))
	assert.False(t, t1.SharedLocks().Contains(r))
}

func TestUpgradeConflict(t *testing.T) {
	lm := NewLockManager(false)
	r := rid(1)
	t1 := NewTxn(1)
	t2 := NewTxn(2)

	require.True(t, lm.LockShared(t1, r))
	require.True(t, lm.LockShared(t2, r))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.LockUpgrade(t1, r) // blocks until t2 releases
	}()
	time.Sleep(10 * time.Millisecond)

	ok := lm.LockUpgrade(t2, r)
	assert.False(t, ok)
	assert.Equal(t, StateAborted, t2.State())

	require.True(t, lm.Unlock(t2, r))
	wg.Wait()
	assert.True(t, t1.ExclusiveLocks().Contains(r))
}

func TestSharedLocksAreConcurrent(t *testing.T) {
	lm := NewLockManager(false)
	r := rid(1)
	t1 := NewTxn(1)
	t2 := NewTxn(2)

	require.True(t, lm.LockShared(t1, r))
	require.True(t, lm.LockShared(t2, r))
	assert.True(t, t1.SharedLocks().Contains(r))
	assert.True(t, t2.SharedLocks().Contains(r))
}

func TestWaitDieAllowsOlderToWaitOnYounger(t *testing.T) {
	// t2 (older) waits behind t5 (younger tail); t2 must NOT abort.
	lm := NewLockManager(false)
	r := rid(1)
	t5 := NewTxn(5)
	t2 := NewTxn(2)

	require.True(t, lm.LockExclusive(t5, r))

	result := make(chan bool, 1)
	go func() { result <- lm.LockShared(t2, r) }()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateGrowing, t2.State(), "older waiter must not be aborted while waiting")

	require.True(t, lm.Unlock(t5, r))
	assert.True(t, <-result)
}

func TestNonStrictUnlockTransitionsToShrinking(t *testing.T) {
	lm := NewLockManager(false)
	r := rid(1)
	t1 := NewTxn(1)

	require.True(t, lm.LockShared(t1, r))
	require.True(t, lm.Unlock(t1, r))
	assert.Equal(t, StateShrinking, t1.State())

	ok := lm.LockShared(t1, rid(2))
	assert.False(t, ok)
	assert.Equal(t, StateAborted, t1.State())
}

func TestStrictUnlockBeforeFinalizeAborts(t *testing.T) {
	lm := NewLockManager(true)
	r := rid(1)
	t1 := NewTxn(1)

	require.True(t, lm.LockShared(t1, r))
	ok := lm.Unlock(t1, r)
	assert.False(t, ok)
	assert.Equal(t, StateAborted, t1.State())
}

func TestStrictUnlockAfterCommitSucceeds(t *testing.T) {
	lm := NewLockManager(true)
	r := rid(1)
	t1 := NewTxn(1)

	require.True(t, lm.LockExclusive(t1, r))
	t1.SetState(StateCommitted)
	assert.True(t, lm.Unlock(t1, r))
	assert.False(t, t1.ExclusiveLocks().Contains(r))
}

func TestLockTableQueueIsRemovedWhenEmpty(t *testing.T) {
	lm := NewLockManager(false)
	r := rid(1)
	t1 := NewTxn(1)

	require.True(t, lm.LockExclusive(t1, r))
	require.True(t, lm.Unlock(t1, r))

	_, ok := lm.lockTable.Load(r)
	assert.False(t, ok, "empty queue should be removed from the lock table")
}
