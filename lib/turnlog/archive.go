// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package turnlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm of an archived
// log. Tags are stored in the archive header (1 byte) — protocol
// constants, changing them breaks existing archives.
type CompressionTag uint8

const (
	// CompressionNone stores the log uncompressed. Chosen
	// automatically when compression would not shrink the data.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is the fast path: block LZ4, modest ratio,
	// very cheap decode.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is the default for turn logs, which are mostly
	// text and compress well at level 3.
	CompressionZstd CompressionTag = 2
)

// String returns the tag's human-readable name.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ArchiveSuffix is appended to a log path when it is archived.
const ArchiveSuffix = ".plar"

// archiveMagic opens every archive file, followed by the compression
// tag and the big-endian uncompressed size.
var archiveMagic = []byte{0x91, 'P', 'L', 'A', 'R'}

var errIncompressible = errors.New("turnlog: data is incompressible")

// zstd encoder/decoder are reused across calls; both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("turnlog: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("turnlog: zstd decoder initialization failed: " + err.Error())
	}
}

// Archive compresses the log at path into path+ArchiveSuffix and
// removes the original. Incompressible data falls back to
// CompressionNone rather than growing the file.
func Archive(path string, tag CompressionTag) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading turn log %q: %w", path, err)
	}

	compressed, err := compress(data, tag)
	if errors.Is(err, errIncompressible) {
		tag = CompressionNone
		compressed = data
	} else if err != nil {
		return "", err
	}

	archivePath := path + ArchiveSuffix
	header := make([]byte, len(archiveMagic)+1+8)
	copy(header, archiveMagic)
	header[len(archiveMagic)] = byte(tag)
	binary.BigEndian.PutUint64(header[len(archiveMagic)+1:], uint64(len(data)))

	out := make([]byte, 0, len(header)+len(compressed))
	out = append(out, header...)
	out = append(out, compressed...)
	if err := os.WriteFile(archivePath, out, 0o644); err != nil {
		return "", fmt.Errorf("writing archive %q: %w", archivePath, err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing archived log %q: %w", path, err)
	}
	return archivePath, nil
}

// ReplayArchive decodes an archived log and replays its records,
// with the same torn-tail semantics as Replay.
func ReplayArchive(path string) ([]TurnRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive %q: %w", path, err)
	}
	headerLength := len(archiveMagic) + 1 + 8
	if len(data) < headerLength || !bytes.Equal(data[:len(archiveMagic)], archiveMagic) {
		return nil, fmt.Errorf("%q is not a turn log archive", path)
	}
	tag := CompressionTag(data[len(archiveMagic)])
	uncompressedSize := binary.BigEndian.Uint64(data[len(archiveMagic)+1 : headerLength])
	if uncompressedSize > maxRecordSize*16 {
		return nil, fmt.Errorf("archive %q: implausible uncompressed size %d", path, uncompressedSize)
	}

	raw, err := decompress(data[headerLength:], tag, int(uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("archive %q: %w", path, err)
	}
	reader := bytes.NewReader(raw)
	if err := validateHeader(reader); err != nil {
		return nil, fmt.Errorf("archive %q: %w", path, err)
	}
	return replayRecords(reader)
}

func compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func decompress(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed archive: size %d does not match expected %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil

	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil

	case CompressionZstd:
		decompressed, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(decompressed) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(decompressed), uncompressedSize)
		}
		return decompressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
