package common

import (
	"encoding/binary"
	"fmt"
)

// RecordID is an opaque, hashable, equality-comparable handle addressing
// one tuple. It keys the lock table and identifies the row a log record
// describes. Tuple layout and page structure are outside this module's
// scope, so a RecordID carries only enough to be unique: a page number and
// a slot within that page.
type RecordID struct {
	PageNum int32
	Slot    int32
}

// RecordIDSize is the serialized size of a RecordID (PageNum (4) + Slot (4)).
const RecordIDSize = 8

func (r RecordID) String() string {
	return fmt.Sprintf("rid(%d,%d)", r.PageNum, r.Slot)
}

// IsNil reports whether r is the zero RecordID.
func (r RecordID) IsNil() bool {
	return r == RecordID{}
}

// InvalidRecordID is a sentinel used internally by the lock table to mark a
// pooled queue as not currently bound to any RID. Real RIDs never use a
// negative page number, so this cannot collide with a legitimate RID.
var InvalidRecordID = RecordID{PageNum: -1, Slot: -1}

// WriteTo serializes the RecordID into data, which must be at least
// RecordIDSize bytes.
func (r RecordID) WriteTo(data []byte) {
	Assert(len(data) >= RecordIDSize, "buffer too small for RecordID")
	binary.LittleEndian.PutUint32(data, uint32(r.PageNum))
	binary.LittleEndian.PutUint32(data[4:], uint32(r.Slot))
}

// LoadFrom deserializes a RecordID from data, which must be at least
// RecordIDSize bytes.
func (r *RecordID) LoadFrom(data []byte) {
	Assert(len(data) >= RecordIDSize, "buffer too small for RecordID")
	r.PageNum = int32(binary.LittleEndian.Uint32(data))
	r.Slot = int32(binary.LittleEndian.Uint32(data[4:]))
}

// TransactionID is a monotonically assigned transaction identifier; a
// smaller id is an older transaction. Ids are unique, so wait-die never
// needs to break ties.
type TransactionID uint64

// InvalidTransactionID is never assigned to a real transaction.
const InvalidTransactionID TransactionID = 0

// LSN is a monotonic log sequence number assigned to each log record at
// append time, used to order durability.
type LSN int64

// InvalidLSN is the sentinel used when no record has been appended yet.
const InvalidLSN LSN = -1
