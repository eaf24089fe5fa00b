package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"mit.edu/dsg/txncore/common"
)

// NoopLogManager discards everything. Useful for exercising the lock
// manager in isolation without paying for any log machinery.
type NoopLogManager struct{}

func (NoopLogManager) StartFlushThread()                        {}
func (NoopLogManager) StopFlushThread()                         {}
func (NoopLogManager) Append(LogRecord) (common.LSN, error)     { return 0, nil }
func (NoopLogManager) Flush(bool) error                         { return nil }
func (NoopLogManager) WaitUntilFlushed(common.LSN) error        { return nil }
func (NoopLogManager) Iterator(common.LSN) (LogIterator, error) { return nil, nil }
func (NoopLogManager) FlushedUntil() common.LSN                 { return 0 }
func (NoopLogManager) Close() error                             { return nil }

// MemoryLogManager is an in-memory LogManager for tests that still want
// real append/flush/iterate semantics without touching disk. It satisfies
// the same LogManager interface the double-buffered implementation does,
// so lock manager and engine tests can swap it in freely.
type MemoryLogManager struct {
	mu           sync.Mutex
	buffer       []byte
	nextLSN      common.LSN
	flushedUntil atomic.Int64
	appendError  atomic.Value
}

func NewMemoryLogManager() *MemoryLogManager {
	return &MemoryLogManager{buffer: make([]byte, 0, 4096)}
}

func (m *MemoryLogManager) StartFlushThread() {}
func (m *MemoryLogManager) StopFlushThread()  {}

func (m *MemoryLogManager) Append(record LogRecord) (common.LSN, error) {
	if err, _ := m.appendError.Load().(error); err != nil {
		return common.InvalidLSN, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lsn := m.nextLSN
	buf := make([]byte, record.Size())
	record.WriteToLog(buf)
	m.buffer = append(m.buffer, buf...)
	m.nextLSN += common.LSN(len(buf))
	return lsn, nil
}

// Flush immediately advances flushedUntil to the tail of the buffer: the
// in-memory backend has no separate durability step to wait for.
func (m *MemoryLogManager) Flush(bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushedUntil.Store(int64(m.nextLSN))
	return nil
}

func (m *MemoryLogManager) WaitUntilFlushed(lsn common.LSN) error {
	_ = m.Flush(true)
	for m.flushedUntil.Load() < int64(lsn) {
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (m *MemoryLogManager) Iterator(startLSN common.LSN) (LogIterator, error) {
	return &memoryLogIterator{mgr: m, currOffset: int(startLSN)}, nil
}

func (m *MemoryLogManager) FlushedUntil() common.LSN {
	return common.LSN(m.flushedUntil.Load())
}

func (m *MemoryLogManager) Close() error { return nil }

func (m *MemoryLogManager) SetAppendError(err error) { m.appendError.Store(err) }

type memoryLogIterator struct {
	mgr        *MemoryLogManager
	currOffset int
	current    LogRecord
	err        error
}

func (i *memoryLogIterator) Next() bool {
	if !i.current.IsNil() {
		i.currOffset += i.current.Size()
	}
	i.mgr.mu.Lock()
	defer i.mgr.mu.Unlock()
	if i.currOffset >= len(i.mgr.buffer) {
		return false
	}
	i.current, i.err = AsVerifiedLogRecord(i.mgr.buffer[i.currOffset:])
	return i.err == nil
}

func (i *memoryLogIterator) CurrentRecord() LogRecord { return i.current }
func (i *memoryLogIterator) CurrentLSN() common.LSN   { return common.LSN(i.currOffset) }
func (i *memoryLogIterator) Error() error             { return i.err }
func (i *memoryLogIterator) Close() error             { return nil }
