// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ErrUnsupportedCompression signifies an error when a compression type is not supported.
var ErrUnsupportedCompression = errors.New("unsupported compression")

// BinFormat defines the type for representing binary file compression formats.
type BinFormat int

const (
	// BinGZIP represents the GZIP compressed binary file format.
	BinGZIP BinFormat = iota

	// BinUncompressed represents the uncompressed binary file format.
	BinUncompressed
)

// String implements the Stringer interface.
func (bf BinFormat) String() string {
	switch bf {
	case BinGZIP:
		return "gzip"
	case BinUncompressed:
		return "uncompressed"
	default:
		return "unknown"
	}
}

// ParseBinFormat returns the BinFormat with the given name, as returned by BinFormat.String.
// An empty name selects the default, BinGZIP.
func ParseBinFormat(name string) (BinFormat, error) {
	switch name {
	case "", BinGZIP.String():
		return BinGZIP, nil
	case BinUncompressed.String():
		return BinUncompressed, nil
	}
	return BinGZIP, errors.Wrapf(ErrUnsupportedCompression, "%q, valid values are %q and %q",
		name, BinGZIP, BinUncompressed)
}

const (
	binHeader     = "batchtrain_checkpoint"
	lenBinHeader  = len(binHeader)
	gzipHeader    = "gzip"
	lenGzipHeader = uint8(len(gzipHeader))
)

// Format header of compressed files, uncompressed files have no header:
//
// ---------------------------------------------------
// | 0                     20 | 21  | 22    21 +len  |
// ---------------------------------------------------
// |  "batchtrain_checkpoint" | len |  "gzip"        |

// writeStateFile creates a new file at the specified path and writes the encoded state with the given format.
func writeStateFile(path string, bf BinFormat, encoded []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create file")
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "close file")
		}
	}()
	if bf == BinUncompressed {
		if _, err = f.Write(encoded); err != nil {
			return errors.Wrap(err, "write state")
		}
		return nil
	}

	var h []byte
	h = append(h, []byte(binHeader)...)
	h = append(h, lenGzipHeader)
	h = append(h, []byte(gzipHeader)...)
	if _, err = f.Write(h); err != nil {
		return errors.Wrap(err, "write header")
	}
	zw := gzip.NewWriter(f)
	if _, err = zw.Write(encoded); err != nil {
		return errors.Wrap(err, "write compressed state")
	}
	if err = zw.Close(); err != nil {
		return errors.Wrap(err, "flush compressed state")
	}
	return nil
}

// getLoadStateReader returns a reader to the decompressed state. Files without header are read as
// uncompressed.
func getLoadStateReader(f io.Reader) (io.Reader, error) {
	rd := bufio.NewReader(f)
	header, err := rd.Peek(lenBinHeader)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read header")
	}
	if string(header) != binHeader {
		return rd, nil
	}
	_, _ = rd.Discard(lenBinHeader)
	var headerZipLen uint8
	if err := binary.Read(rd, binary.BigEndian, &headerZipLen); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	compression := make([]byte, headerZipLen)
	if _, err = io.ReadFull(rd, compression); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if string(compression) != gzipHeader {
		return nil, errors.Wrapf(ErrUnsupportedCompression, "compression %q", compression)
	}
	zr, err := gzip.NewReader(rd)
	if err != nil {
		return nil, errors.Wrap(err, "read gzip header")
	}
	return zr, nil
}
