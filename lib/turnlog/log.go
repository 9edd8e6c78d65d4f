// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package turnlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zeebo/blake3"
)

// fileMagic opens every turn log. The leading byte is outside ASCII
// so text tooling does not mistake the file for a line format.
var fileMagic = []byte{0x91, 'P', 'L', 'O', 'G'}

// formatVersion is the on-disk framing version, written after the
// magic. Framing changes bump this; record schema changes bump
// RecordVersion inside the payload instead.
const formatVersion uint8 = 1

// maxRecordSize bounds one frame's payload. A length prefix beyond
// this is treated as corruption, not an allocation request.
const maxRecordSize = 16 << 20

// recordDomainKey keys the BLAKE3 checksum over record payloads.
// Fixed constant: changing it invalidates every existing log. ASCII
// domain name, zero-padded to the 32 bytes keyed mode requires.
var recordDomainKey = [32]byte{
	'p', 'a', 'r', 'l', 'e', 'y', '.', 't', 'u', 'r', 'n', 'l', 'o', 'g', '.',
	'r', 'e', 'c', 'o', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func checksum(payload []byte) [32]byte {
	hasher, err := blake3.NewKeyed(recordDomainKey[:])
	if err != nil {
		panic("turnlog: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// Writer appends records to one log file. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	closed bool
}

// OpenWriter opens (or creates) the log at path for appending. A new
// file gets the header; an existing file's header is validated so an
// unrelated file is never silently appended to.
func OpenWriter(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening turn log %q: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat turn log %q: %w", path, err)
	}
	if info.Size() == 0 {
		header := append(append([]byte{}, fileMagic...), formatVersion)
		if _, err := file.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("writing turn log header: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("syncing turn log header: %w", err)
		}
	} else if err := validateHeader(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("turn log %q: %w", path, err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, fmt.Errorf("seeking turn log %q: %w", path, err)
	}
	return &Writer{file: file, path: path}, nil
}

func validateHeader(r io.Reader) error {
	header := make([]byte, len(fileMagic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header[:len(fileMagic)], fileMagic) {
		return errors.New("not a turn log (bad magic)")
	}
	if version := header[len(fileMagic)]; version > formatVersion {
		return fmt.Errorf("turn log format version %d is newer than supported %d", version, formatVersion)
	}
	return nil
}

// Append encodes the record and writes one framed entry, syncing so
// the record survives a crash. The record's Version is stamped here.
func (w *Writer) Append(record TurnRecord) error {
	record.Version = RecordVersion
	payload, err := encMode.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding turn record: %w", err)
	}

	frame := make([]byte, 4+32+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	sum := checksum(payload)
	copy(frame[4:36], sum[:])
	copy(frame[36:], payload)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("turn log %q: writer closed", w.path)
	}
	// A single Write call keeps the frame contiguous; a crash can
	// still tear it, which replay detects and drops.
	if _, err := w.file.Write(frame); err != nil {
		return fmt.Errorf("appending turn record: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("syncing turn log: %w", err)
	}
	return nil
}

// Path returns the log file path.
func (w *Writer) Path() string { return w.path }

// Close closes the underlying file. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// Replay reads every intact record from the log at path, in append
// order. A torn or corrupt tail ends replay silently: everything
// before it is returned. A missing file is an empty history, not an
// error.
func Replay(path string) ([]TurnRecord, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening turn log %q: %w", path, err)
	}
	defer file.Close()
	if err := validateHeader(file); err != nil {
		return nil, fmt.Errorf("turn log %q: %w", path, err)
	}
	return replayRecords(file)
}

// replayRecords decodes frames from r until EOF or the first damaged
// frame.
func replayRecords(r io.Reader) ([]TurnRecord, error) {
	var records []TurnRecord
	var prefix [36]byte
	for {
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			// EOF here is a clean end; a short read is a torn
			// length/checksum prefix. Either way, replay is done.
			return records, nil
		}
		length := binary.BigEndian.Uint32(prefix[:4])
		if length == 0 || length > maxRecordSize {
			return records, nil
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return records, nil
		}
		sum := checksum(payload)
		if !bytes.Equal(sum[:], prefix[4:36]) {
			return records, nil
		}
		var record TurnRecord
		if err := decMode.Unmarshal(payload, &record); err != nil {
			return records, nil
		}
		records = append(records, record)
	}
}
