package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"mit.edu/dsg/txncore/common"
)

const (
	// DefaultLogBufferSize is LOG_BUFFER_SIZE when the caller doesn't pick
	// one explicitly.
	DefaultLogBufferSize = 1 << 16 // 64KB
	// DefaultLogTimeout is LOG_TIMEOUT when the caller doesn't pick one.
	DefaultLogTimeout = 5 * time.Millisecond
)

// DoubleBufferLogManager is the LogManager spec.md §4.2 specifies: two
// fixed-size buffers (current, being appended to; flush, being written to
// disk), one mutex guarding all append state, and two condition variables
// — flushCond wakes the background flusher, appendCond wakes appenders
// blocked on buffer space or on a forced flush.
type DoubleBufferLogManager struct {
	diskManager DiskManager
	bufferSize  int
	timeout     time.Duration

	latch      sync.Mutex
	flushCond  *sync.Cond
	appendCond *sync.Cond

	currentBuf []byte
	currentOff int
	flushBuf   []byte
	flushSize  int
	needFlush  bool

	nextLSN       common.LSN
	lastLSN       common.LSN
	persistentLSN common.LSN

	enabled    atomic.Bool
	wg         sync.WaitGroup
	stopTicker chan struct{}
	asyncErr   atomic.Value
}

// NewDoubleBufferLogManager constructs a logger over dm. It does not start
// the flusher; call StartFlushThread for that.
func NewDoubleBufferLogManager(dm DiskManager, bufferSize int, timeout time.Duration) *DoubleBufferLogManager {
	if bufferSize <= 0 {
		bufferSize = DefaultLogBufferSize
	}
	if timeout <= 0 {
		timeout = DefaultLogTimeout
	}
	lm := &DoubleBufferLogManager{
		diskManager: dm,
		bufferSize:  bufferSize,
		timeout:     timeout,
		currentBuf:  make([]byte, bufferSize),
		flushBuf:    make([]byte, bufferSize),
		lastLSN:     common.InvalidLSN,
	}
	// Nothing is durable yet, not even LSN 0.
	lm.persistentLSN = common.InvalidLSN
	lm.flushCond = sync.NewCond(&lm.latch)
	lm.appendCond = sync.NewCond(&lm.latch)
	return lm
}

func (lm *DoubleBufferLogManager) getError() error {
	if v := lm.asyncErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (lm *DoubleBufferLogManager) setError(err error) {
	lm.asyncErr.CompareAndSwap(nil, err)
	lm.latch.Lock()
	lm.flushCond.Broadcast()
	lm.appendCond.Broadcast()
	lm.latch.Unlock()
}

// StartFlushThread implements the "if already enabled, return" guard
// spec.md §9 says the source should have had, rather than the inverted
// check actually present there.
func (lm *DoubleBufferLogManager) StartFlushThread() {
	if !lm.enabled.CompareAndSwap(false, true) {
		return
	}
	lm.stopTicker = make(chan struct{})
	lm.wg.Add(2)
	go lm.flushLoop()
	go lm.ticker()
}

// StopFlushThread forces a final flush, stops the flusher, and asserts
// both buffers ended up empty.
func (lm *DoubleBufferLogManager) StopFlushThread() {
	if !lm.enabled.CompareAndSwap(true, false) {
		return
	}
	lm.latch.Lock()
	lm.needFlush = true
	lm.flushCond.Signal()
	lm.latch.Unlock()
	close(lm.stopTicker)

	lm.wg.Wait()

	lm.latch.Lock()
	common.Assert(lm.currentOff == 0, "stop_flush_thread: current buffer not empty")
	common.Assert(lm.flushSize == 0, "stop_flush_thread: flush buffer not empty")
	lm.latch.Unlock()
}

// ticker wakes the flusher every lm.timeout so a record sitting in the
// current buffer with no further appends still gets flushed eventually
// (the timer-driven flush scenario in spec.md §8). It exits once the
// flusher is no longer enabled.
func (lm *DoubleBufferLogManager) ticker() {
	defer lm.wg.Done()
	t := time.NewTicker(lm.timeout)
	defer t.Stop()
	for {
		select {
		case <-lm.stopTicker:
			return
		case <-t.C:
			lm.latch.Lock()
			lm.flushCond.Signal()
			lm.latch.Unlock()
		}
	}
}

// Append implements the protocol in spec.md §4.2: rotate (signal the
// flusher and wait) if the record doesn't fit, assign the LSN, serialize,
// advance the offset.
func (lm *DoubleBufferLogManager) Append(record LogRecord) (common.LSN, error) {
	size := record.Size()
	common.Assert(size < lm.bufferSize, "log record of %d bytes exceeds buffer capacity %d", size, lm.bufferSize)

	lm.latch.Lock()
	defer lm.latch.Unlock()

	if err := lm.getError(); err != nil {
		return common.InvalidLSN, err
	}
	if !lm.enabled.Load() {
		return common.InvalidLSN, common.GoDBError{Code: common.LogClosedError, ErrString: "log manager not started"}
	}

	for lm.currentOff+size >= lm.bufferSize {
		lm.needFlush = true
		lm.flushCond.Signal()
		lm.appendCond.Wait()
		if err := lm.getError(); err != nil {
			return common.InvalidLSN, err
		}
		if !lm.enabled.Load() {
			return common.InvalidLSN, common.GoDBError{Code: common.LogClosedError, ErrString: "log manager stopped while waiting for buffer space"}
		}
	}

	lsn := lm.nextLSN
	record.WriteToLog(lm.currentBuf[lm.currentOff:])
	lm.currentOff += size
	lm.nextLSN += common.LSN(size)
	lm.lastLSN = lsn
	return lsn, nil
}

// flushLoop is the background flusher. It runs until StopFlushThread
// clears the enabled flag and the current buffer is empty, performing
// exactly one rotate-and-write cycle per wake.
func (lm *DoubleBufferLogManager) flushLoop() {
	defer lm.wg.Done()
	for {
		lm.latch.Lock()
		for !lm.needFlush && lm.currentOff == 0 {
			lm.flushCond.Wait()
		}
		common.Assert(lm.flushSize == 0, "flush buffer must be empty before rotation")

		var toWrite []byte
		var swappedLSN common.LSN
		didSwap := lm.currentOff > 0
		if didSwap {
			lm.currentBuf, lm.flushBuf = lm.flushBuf, lm.currentBuf
			lm.flushSize = lm.currentOff
			lm.currentOff = 0
			swappedLSN = lm.lastLSN
			toWrite = lm.flushBuf[:lm.flushSize]
			// The buffer is already rotated and empty; appenders blocked
			// on space can resume without waiting for the write below.
			lm.appendCond.Broadcast()
		}
		lm.latch.Unlock()

		if didSwap {
			if err := lm.diskManager.WriteLog(toWrite); err != nil {
				lm.setError(err)
				return
			}
		}

		lm.latch.Lock()
		if didSwap {
			lm.flushSize = 0
			if swappedLSN > lm.persistentLSN {
				lm.persistentLSN = swappedLSN
			}
		}
		lm.needFlush = false
		lm.appendCond.Broadcast()
		// After a stop, run one more cycle if records landed in the current
		// buffer while the last write was in progress.
		keepRunning := lm.enabled.Load() || lm.currentOff > 0
		lm.latch.Unlock()

		if !keepRunning {
			return
		}
	}
}

// Flush implements the forced/non-forced semantics of spec.md §4.2.
func (lm *DoubleBufferLogManager) Flush(force bool) error {
	lm.latch.Lock()
	defer lm.latch.Unlock()

	if err := lm.getError(); err != nil {
		return err
	}
	if !force {
		lm.appendCond.Wait()
		return lm.getError()
	}

	// Wait for persistentLSN to reach the LSN of the last record appended
	// before this call, not for needFlush to flip false: an unrelated
	// flush cycle already in flight clears needFlush on its own schedule,
	// and may do so after a concurrent appender has queued more data
	// behind our target without this call ever having asked for it.
	target := lm.lastLSN
	lm.needFlush = true
	lm.flushCond.Signal()
	for lm.enabled.Load() && lm.persistentLSN < target {
		lm.appendCond.Wait()
		if err := lm.getError(); err != nil {
			return err
		}
	}
	return nil
}

// WaitUntilFlushed blocks until persistentLSN >= lsn, triggering flush
// cycles as needed. This is the operation the buffer pool leans on before
// evicting a dirty page (spec.md §4.2's "ordering and durability
// guarantees").
func (lm *DoubleBufferLogManager) WaitUntilFlushed(lsn common.LSN) error {
	lm.latch.Lock()
	defer lm.latch.Unlock()

	if err := lm.getError(); err != nil {
		return err
	}
	for lsn > lm.persistentLSN {
		lm.needFlush = true
		lm.flushCond.Signal()
		lm.appendCond.Wait()
		if err := lm.getError(); err != nil {
			return err
		}
	}
	return nil
}

func (lm *DoubleBufferLogManager) FlushedUntil() common.LSN {
	lm.latch.Lock()
	defer lm.latch.Unlock()
	return lm.persistentLSN
}

func (lm *DoubleBufferLogManager) Iterator(startLSN common.LSN) (LogIterator, error) {
	src, ok := lm.diskManager.(IteratorSource)
	common.Assert(ok, "disk manager %T does not support iteration", lm.diskManager)
	return src.Iterator(startLSN)
}

func (lm *DoubleBufferLogManager) Close() error {
	lm.StopFlushThread()
	lm.setError(common.GoDBError{Code: common.LogClosedError, ErrString: "log closed"})
	return lm.diskManager.Close()
}
