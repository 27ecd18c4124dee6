package rdb

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// Magic is the 7-byte signature every database file starts with.
var Magic = [7]byte{'R', 'D', 'B', 'F', 'I', 'L', 'E'}

// CurrentFileFormatVersion is the on-disk format version this package
// writes and the only one it reads.
const CurrentFileFormatVersion uint32 = 1

// EngineVersion is written into a new database's header, as both its engine
// version and its last-opened-with string; opening an existing file does not
// rewrite the header.
const EngineVersion = "rdb-0.1"

// RootCatalogPage is the conventional page holding the Catalog (spec.md §3).
const RootCatalogPage PageID = 1

// DatabaseHeader is the page-0 layout described in spec.md §3.
type DatabaseHeader struct {
	FormatVersion    uint32
	EngineVersion    string
	PageSize         uint32
	CreatedAt        int64
	LastOpenedAt     int64
	LastOpenedWith   string
	DatabaseName     string
	WALEnabled       bool
	Encryption       bool
	RootCatalogPage  uint32
}

// NewDatabaseHeader builds the header written the first time a database
// file is created.
func NewDatabaseHeader(name string) DatabaseHeader {
	now := time.Now().Unix()
	return DatabaseHeader{
		FormatVersion:   CurrentFileFormatVersion,
		EngineVersion:   EngineVersion,
		PageSize:        PageSize,
		CreatedAt:       now,
		LastOpenedAt:    now,
		LastOpenedWith:  EngineVersion,
		DatabaseName:    name,
		WALEnabled:      false,
		Encryption:      false,
		RootCatalogPage: uint32(RootCatalogPage),
	}
}

func writeLenPrefixed(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(s)))
	off += 2
	copy(buf[off:], s)
	return off + len(s)
}

func readLenPrefixed(buf []byte, off int) (string, int, error) {
	if off+2 > len(buf) {
		return "", off, errors.Wrap(ErrCorruptPage, "truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+n > len(buf) {
		return "", off, errors.Wrap(ErrCorruptPage, "truncated string payload")
	}
	return string(buf[off : off+n]), off + n, nil
}

// Encode serializes the header into a fresh PageSize-byte buffer.
func (h DatabaseHeader) Encode() ([]byte, error) {
	buf := make([]byte, PageSize)
	off := copy(buf, Magic[:])
	binary.LittleEndian.PutUint32(buf[off:], h.FormatVersion)
	off += 4
	off = writeLenPrefixed(buf, off, h.EngineVersion)
	binary.LittleEndian.PutUint32(buf[off:], h.PageSize)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.CreatedAt))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.LastOpenedAt))
	off += 8
	off = writeLenPrefixed(buf, off, h.LastOpenedWith)
	off = writeLenPrefixed(buf, off, h.DatabaseName)
	if off+1+1+4 > PageSize {
		return nil, errors.Wrap(ErrCorruptPage, "header too large for one page")
	}
	buf[off] = boolByte(h.WALEnabled)
	off++
	buf[off] = boolByte(h.Encryption)
	off++
	binary.LittleEndian.PutUint32(buf[off:], h.RootCatalogPage)
	return buf, nil
}

// DecodeHeader parses a PageSize-byte buffer previously written by Encode.
func DecodeHeader(buf []byte) (DatabaseHeader, error) {
	var h DatabaseHeader
	if len(buf) < len(Magic) || string(buf[:len(Magic)]) != string(Magic[:]) {
		return h, errors.Wrap(ErrCorruptPage, "bad magic")
	}
	off := len(Magic)
	h.FormatVersion = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if h.FormatVersion != CurrentFileFormatVersion {
		return h, errors.Wrapf(ErrCorruptPage, "unsupported format version %d", h.FormatVersion)
	}

	var err error
	h.EngineVersion, off, err = readLenPrefixed(buf, off)
	if err != nil {
		return h, err
	}

	h.PageSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if h.PageSize != PageSize {
		return h, errors.Wrap(ErrCorruptPage, "page size mismatch")
	}

	h.CreatedAt = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.LastOpenedAt = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8

	h.LastOpenedWith, off, err = readLenPrefixed(buf, off)
	if err != nil {
		return h, err
	}
	h.DatabaseName, off, err = readLenPrefixed(buf, off)
	if err != nil {
		return h, err
	}

	if off+1+1+4 > len(buf) {
		return h, errors.Wrap(ErrCorruptPage, "truncated header tail")
	}
	h.WALEnabled = buf[off] != 0
	off++
	h.Encryption = buf[off] != 0
	off++
	h.RootCatalogPage = binary.LittleEndian.Uint32(buf[off:])

	return h, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
