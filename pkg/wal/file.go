package wal

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// rotatingFile owns the currently-open segment of a directory of
// `wal_<ts>.log` files. Each record is
// [u32 BE entry_length][entry bytes][u32 BE checksum_length][checksum bytes],
// big-endian throughout, with the checksum an MD5 (or BLAKE2b) hex
// digest of the entry bytes.
type rotatingFile struct {
	dir      string
	current  *os.File
	size     int64
	checksum ChecksumAlgorithm
}

func computeSum(algo ChecksumAlgorithm, b []byte) []byte {
	switch algo {
	case ChecksumBLAKE2b:
		sum := blake2b.Sum256(b)
		return sum[:]
	default:
		sum := md5.Sum(b)
		return sum[:]
	}
}

type wireEntry struct {
	ID          string    `json:"id"`
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	State       State     `json:"state"`
	Host        string    `json:"host"`
	MessageID   string    `json:"message_id"`
	MessageType string    `json:"message_type"`
	Payload     []byte    `json:"payload"`
	RetryCount  int       `json:"retry_count"`
	Error       string    `json:"error,omitempty"`
	Checksum    string    `json:"checksum"`
}

func toWire(e *Entry) wireEntry {
	return wireEntry{
		ID: e.ID, Sequence: e.Sequence, Timestamp: e.Timestamp, State: e.State,
		Host: e.Host, MessageID: e.MessageID, MessageType: e.MessageType,
		Payload: e.Payload, RetryCount: e.RetryCount, Error: e.Error, Checksum: e.Checksum,
	}
}

func fromWire(w wireEntry) *Entry {
	return &Entry{
		ID: w.ID, Sequence: w.Sequence, Timestamp: w.Timestamp, State: w.State,
		Host: w.Host, MessageID: w.MessageID, MessageType: w.MessageType,
		Payload: w.Payload, RetryCount: w.RetryCount, Error: w.Error, Checksum: w.Checksum,
	}
}

func openRotatingFile(dir string, maxSize int64, algo ChecksumAlgorithm) (*rotatingFile, map[string]*Entry, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, 0, fmt.Errorf("wal: create directory: %w", err)
	}

	entries, maxSeq, err := scanDirectory(dir, algo)
	if err != nil {
		return nil, nil, 0, err
	}

	rf := &rotatingFile{dir: dir, checksum: algo}
	if err := rf.openNewSegment(); err != nil {
		return nil, nil, 0, err
	}
	return rf, entries, maxSeq, nil
}

func scanDirectory(dir string, algo ChecksumAlgorithm) (map[string]*Entry, int64, error) {
	entries := make(map[string]*Entry)
	var maxSeq int64

	files, err := filepath.Glob(filepath.Join(dir, "wal_*.log"))
	if err != nil {
		return nil, 0, err
	}
	sort.Strings(files)

	for _, path := range files {
		recs, err := readSegment(path, algo)
		if err != nil {
			continue // a torn trailing write should not block recovery
		}
		for _, w := range recs {
			e := fromWire(w)
			// State transitions reuse the entry's sequence, so among records
			// with equal sequence the one read later (the newer state) wins.
			if existing, ok := entries[e.ID]; !ok || e.Sequence >= existing.Sequence {
				entries[e.ID] = e
			}
			if e.Sequence > maxSeq {
				maxSeq = e.Sequence
			}
		}
	}
	return entries, maxSeq, nil
}

func readSegment(path string, algo ChecksumAlgorithm) ([]wireEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []wireEntry
	off := 0
	for off+4 <= len(data) {
		entryLen := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if off+entryLen > len(data) {
			break // torn write at EOF
		}
		entryBytes := data[off : off+entryLen]
		off += entryLen

		if off+4 > len(data) {
			break
		}
		sumLen := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if off+sumLen > len(data) {
			break
		}
		recordedSum := data[off : off+sumLen]
		off += sumLen

		if hex.EncodeToString(computeSum(algo, entryBytes)) != string(recordedSum) {
			continue // corrupt record, skip
		}

		var w wireEntry
		if err := json.Unmarshal(entryBytes, &w); err != nil {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (rf *rotatingFile) openNewSegment() error {
	name := fmt.Sprintf("wal_%d.log", time.Now().UTC().UnixNano())
	f, err := os.OpenFile(filepath.Join(rf.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}
	rf.current = f
	rf.size = 0
	return nil
}

func (rf *rotatingFile) append(e *Entry, maxSize int64) error {
	entryBytes, err := json.Marshal(toWire(e))
	if err != nil {
		return fmt.Errorf("wal: encode entry: %w", err)
	}
	sum := hex.EncodeToString(computeSum(rf.checksum, entryBytes))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(entryBytes)))
	if _, err := rf.current.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := rf.current.Write(entryBytes); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sum)))
	if _, err := rf.current.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := rf.current.Write([]byte(sum)); err != nil {
		return err
	}

	rf.size += int64(4 + len(entryBytes) + 4 + len(sum))
	if rf.size >= maxSize {
		if err := rf.current.Close(); err != nil {
			return err
		}
		return rf.openNewSegment()
	}
	return nil
}

func (rf *rotatingFile) sync() error {
	return rf.current.Sync()
}

func (rf *rotatingFile) close() error {
	return rf.current.Close()
}

// compact rewrites the directory: every segment file is removed and the
// entries not in completed/expired state are re-appended to a fresh
// segment.
func (rf *rotatingFile) compact(entries map[string]*Entry, maxSize int64) {
	live := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e.State != StateCompleted && e.State != StateExpired {
			live = append(live, e)
		}
	}

	files, err := filepath.Glob(filepath.Join(rf.dir, "wal_*.log"))
	if err != nil {
		return
	}
	if err := rf.current.Close(); err != nil {
		return
	}
	for _, f := range files {
		if !strings.HasSuffix(f, ".log") {
			continue
		}
		_ = os.Remove(f)
	}
	if err := rf.openNewSegment(); err != nil {
		return
	}
	for _, e := range live {
		_ = rf.append(e, maxSize)
	}
}
