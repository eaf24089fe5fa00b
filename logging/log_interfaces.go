package logging

import "mit.edu/dsg/txncore/common"

// LogManager is the double-buffered WAL contract spec.md §4.2 specifies.
type LogManager interface {
	// StartFlushThread transitions the logger to enabled and spawns the
	// background flusher. Idempotent.
	StartFlushThread()

	// StopFlushThread forces one final flush, signals the flusher to
	// exit, joins it, and asserts both buffers are empty. Idempotent.
	StopFlushThread()

	// Append assigns the next LSN to record, serializes it into the
	// current buffer, and returns the LSN. May block until the current
	// buffer has room.
	Append(record LogRecord) (common.LSN, error)

	// Flush requests durability. If force, it initiates a flush cycle
	// (if one isn't already pending) and waits for it to complete while
	// logging is enabled. If not force, it waits for the flusher's next
	// notification (a buffer rotation or the end of a flush cycle)
	// without initiating one; the rotated records need not be durable
	// yet when it returns.
	Flush(force bool) error

	// WaitUntilFlushed blocks until lsn (and everything before it) is
	// durable.
	WaitUntilFlushed(lsn common.LSN) error

	// Iterator walks the log from startLSN. Only supported when the
	// backing DiskManager implements IteratorSource.
	Iterator(startLSN common.LSN) (LogIterator, error)

	// FlushedUntil returns the highest LSN currently known durable.
	FlushedUntil() common.LSN

	// Close stops the flusher (if running) and closes the backing
	// DiskManager.
	Close() error
}

// LogIterator traverses log records sequentially, used by recovery-style
// tooling (here, only cmd/txncoreinspect — crash recovery itself is out of
// scope for this module).
type LogIterator interface {
	Next() bool
	CurrentRecord() LogRecord
	CurrentLSN() common.LSN
	Error() error
	Close() error
}
