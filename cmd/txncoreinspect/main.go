// Command txncoreinspect is an operator tool for looking at a WAL written
// by logging.FileDiskManager or logging.WALDiskManager: replay it into
// decoded records and grep them by field, without writing a second parser
// for every ad-hoc question someone has about a log file.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	json "github.com/goccy/go-json"
	"github.com/magiconair/properties"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"mit.edu/dsg/txncore/common"
	"mit.edu/dsg/txncore/logging"
)

// decodedRecord is the JSON-friendly view of one logging.LogRecord. Only
// the fields relevant to its type are populated; the rest are omitted.
type decodedRecord struct {
	LSN        common.LSN `json:"lsn"`
	Type       string     `json:"type"`
	TxnID      *uint64    `json:"txn_id,omitempty"`
	PageNum    *int32     `json:"page_num,omitempty"`
	Slot       *int32     `json:"slot,omitempty"`
	Tuple      string     `json:"tuple,omitempty"`
	OldTuple   string     `json:"old_tuple,omitempty"`
	NewTuple   string     `json:"new_tuple,omitempty"`
	PrevPageID *int32     `json:"prev_page_id,omitempty"`
	PageID     *int32     `json:"page_id,omitempty"`
}

func decode(lsn common.LSN, rec logging.LogRecord) decodedRecord {
	t := rec.RecordType()
	out := decodedRecord{LSN: lsn, Type: t.String()}

	switch t {
	case logging.LogBegin, logging.LogCommit, logging.LogAbort:
		id := uint64(rec.TxnID())
		out.TxnID = &id
	case logging.LogInsert, logging.LogMarkDelete, logging.LogApplyDelete, logging.LogRollbackDelete:
		id := uint64(rec.TxnID())
		out.TxnID = &id
		rid := rec.RID()
		out.PageNum, out.Slot = &rid.PageNum, &rid.Slot
		out.Tuple = hex.EncodeToString(rec.Tuple())
	case logging.LogUpdate:
		id := uint64(rec.TxnID())
		out.TxnID = &id
		rid := rec.RID()
		out.PageNum, out.Slot = &rid.PageNum, &rid.Slot
		out.OldTuple = hex.EncodeToString(rec.OldTuple())
		out.NewTuple = hex.EncodeToString(rec.NewTuple())
	case logging.LogNewPage:
		prev, page := rec.PrevPageID(), rec.PageID()
		out.PrevPageID, out.PageID = &prev, &page
	}
	return out
}

func replay(dm logging.DiskManager) []decodedRecord {
	src, ok := dm.(logging.IteratorSource)
	if !ok {
		fmt.Println("backend does not support replay")
		return nil
	}
	iter, err := src.Iterator(0)
	if err != nil {
		fmt.Println("iterator:", err)
		return nil
	}
	defer iter.Close()

	var out []decodedRecord
	for iter.Next() {
		out = append(out, decode(iter.CurrentLSN(), iter.CurrentRecord()))
	}
	if err := iter.Error(); err != nil {
		fmt.Println("replay stopped early:", err)
	}
	return out
}

func printPretty(r decodedRecord) {
	raw, err := json.Marshal(r)
	if err != nil {
		fmt.Println("encode error:", err)
		return
	}
	fmt.Println(string(pretty.Pretty(raw)))
}

// find greps already-decoded records by a gjson path, re-encoding each one
// rather than keeping the raw JSON from replay around, since records are
// typically small and this keeps decodedRecord the single source of truth.
func find(records []decodedRecord, path, want string) {
	matched := 0
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			continue
		}
		if res := gjson.GetBytes(raw, path); res.Exists() && res.String() == want {
			printPretty(r)
			matched++
		}
	}
	fmt.Printf("%d match(es)\n", matched)
}

func openDiskManager(props *properties.Properties) (logging.DiskManager, error) {
	path := props.GetString("LOG_PATH", "txncore.wal")
	backend := props.GetString("BACKEND", "file")
	switch backend {
	case "wal":
		return logging.NewWALDiskManager(path)
	case "file":
		return logging.NewFileDiskManager(path)
	default:
		return nil, fmt.Errorf("unknown BACKEND %q (want file or wal)", backend)
	}
}

func main() {
	configPath := flag.String("config", "txncoreinspect.properties", "path to a .properties config file")
	flag.Parse()

	props, err := properties.LoadFile(*configPath, properties.UTF8)
	if err != nil {
		fmt.Fprintf(os.Stderr, "txncoreinspect: %v (using defaults)\n", err)
		props = properties.NewProperties()
	}

	dm, err := openDiskManager(props)
	if err != nil {
		fmt.Fprintln(os.Stderr, "txncoreinspect:", err)
		os.Exit(1)
	}
	defer dm.Close()

	rl, err := readline.New("txncoreinspect> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "txncoreinspect:", err)
		os.Exit(1)
	}
	defer rl.Close()

	var records []decodedRecord

	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rl.SaveHistory(line)
		fields := strings.Fields(line)

		switch fields[0] {
		case "exit", "quit":
			return
		case "replay":
			records = replay(dm)
			for _, r := range records {
				printPretty(r)
			}
			fmt.Printf("%d record(s)\n", len(records))
		case "find":
			if len(fields) < 3 {
				fmt.Println("usage: find <json-path> <value>")
				continue
			}
			find(records, fields[1], fields[2])
		case "help":
			fmt.Println("commands: replay | find <path> <value> | exit")
		default:
			fmt.Println("unknown command; try help")
		}
	}
	fmt.Println()
}
