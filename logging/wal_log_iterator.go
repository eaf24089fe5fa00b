package logging

import (
	"encoding/binary"
	"io"

	"github.com/tidwall/wal"
	"mit.edu/dsg/txncore/common"
)

// walLogIterator replays a github.com/tidwall/wal log as a sequence of
// individual LogRecords. Each wal entry is itself one flush payload — the
// concatenation of however many records were in the current buffer at
// swap time — so this walks entries in index order and, within each,
// scans record boundaries exactly as LogFileIterator does for a plain
// file. A running byte counter stands in for file offset so CurrentLSN
// still means "byte offset in the logical log stream," matching
// FileDiskManager's LSNs record for record.
type walLogIterator struct {
	log      *wal.Log
	nextIdx  uint64
	lastIdx  uint64
	entry    []byte
	entryOff int

	offset     int64
	currentRec LogRecord
	err        error
}

func newWALLogIterator(l *wal.Log, startLSN common.LSN) (*walLogIterator, error) {
	first, err := l.FirstIndex()
	if err != nil {
		return nil, err
	}
	last, err := l.LastIndex()
	if err != nil {
		return nil, err
	}
	it := &walLogIterator{log: l, nextIdx: first, lastIdx: last}
	for it.offset < int64(startLSN) {
		if !it.advance() {
			return it, it.err
		}
		if it.offset >= int64(startLSN) {
			// Step back so the caller's first Next returns this record.
			it.entryOff -= it.currentRec.Size()
			it.currentRec = LogRecord{}
		}
	}
	return it, it.err
}

// loadNextEntry pulls the next wal entry into it.entry, skipping empty
// ones, until entries are exhausted.
func (it *walLogIterator) loadNextEntry() bool {
	for it.nextIdx <= it.lastIdx {
		data, err := it.log.Read(it.nextIdx)
		it.nextIdx++
		if err != nil {
			if err == wal.ErrNotFound {
				continue
			}
			it.err = err
			return false
		}
		if len(data) == 0 {
			continue
		}
		it.entry = data
		it.entryOff = 0
		return true
	}
	return false
}

func (it *walLogIterator) advance() bool {
	if it.err != nil {
		return false
	}
	if !it.currentRec.IsNil() {
		it.offset += int64(it.currentRec.Size())
	}

	for {
		if it.entry == nil || it.entryOff >= len(it.entry) {
			if !it.loadNextEntry() {
				return false
			}
		}

		remaining := it.entry[it.entryOff:]
		if len(remaining) < logRecordHeaderSize {
			it.entry = nil
			continue
		}
		recordLen := int(binary.LittleEndian.Uint16(remaining))
		if recordLen == 0 || recordLen > len(remaining) {
			it.entry = nil
			continue
		}

		rec, err := AsVerifiedLogRecord(remaining[:recordLen])
		if err != nil {
			it.err = err
			return false
		}
		it.entryOff += recordLen
		it.currentRec = rec
		return true
	}
}

func (it *walLogIterator) Next() bool { return it.advance() }

func (it *walLogIterator) CurrentRecord() LogRecord { return it.currentRec }

func (it *walLogIterator) CurrentLSN() common.LSN { return common.LSN(it.offset) }

func (it *walLogIterator) Error() error {
	if it.err == io.EOF {
		return nil
	}
	return it.err
}

func (it *walLogIterator) Close() error { return nil }
