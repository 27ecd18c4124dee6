package rdb

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Slotted Page on-disk layout (spec.md §4.3):
//   header:  num_slots:u16  free_space_end:u16  next_page_id:u32
//   slots:   grow forward from offset headerSize, 4 bytes each: offset:u16 length:u16
//   tuples:  grow backward from free_space_end; each payload is [flag:u8][body...]
const (
	slottedHeaderSize = 8
	slottedSlotSize   = 4
	// compressionThreshold is the tuple length above which zstd compression
	// is attempted (spec.md §4.3 step 1).
	compressionThreshold = 64
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
	zstdMu         sync.Mutex
)

func compress(data []byte) []byte {
	zstdMu.Lock()
	defer zstdMu.Unlock()
	return zstdEncoder.EncodeAll(data, nil)
}

func decompress(data []byte) ([]byte, error) {
	zstdMu.Lock()
	defer zstdMu.Unlock()
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(ErrCorruptPage, "zstd decode failed")
	}
	return out, nil
}

// SlottedPage is a view over a Page's bytes interpreted as a slotted page.
// It does not own the Page; callers hold the Page's lock for the duration
// of any method call.
type SlottedPage struct {
	page *Page
}

// NewSlottedPage wraps page for slotted-page access.
func NewSlottedPage(page *Page) *SlottedPage {
	return &SlottedPage{page: page}
}

// InitSlottedPage initializes page as an empty slotted page.
func InitSlottedPage(page *Page) *SlottedPage {
	sp := &SlottedPage{page: page}
	sp.setNumSlots(0)
	sp.setFreeSpaceEnd(PageSize)
	sp.SetNextPageID(InvalidPageID)
	page.MarkDirty()
	return sp
}

func (sp *SlottedPage) data() []byte { return sp.page.Data() }

func (sp *SlottedPage) numSlots() uint16 {
	return binary.LittleEndian.Uint16(sp.data()[0:2])
}

func (sp *SlottedPage) setNumSlots(n uint16) {
	binary.LittleEndian.PutUint16(sp.data()[0:2], n)
}

func (sp *SlottedPage) freeSpaceEnd() uint16 {
	return binary.LittleEndian.Uint16(sp.data()[2:4])
}

func (sp *SlottedPage) setFreeSpaceEnd(n uint16) {
	binary.LittleEndian.PutUint16(sp.data()[2:4], n)
}

// NextPageID returns the next page in the heap-file chain, or
// InvalidPageID at the tail.
func (sp *SlottedPage) NextPageID() PageID {
	return PageID(binary.LittleEndian.Uint32(sp.data()[4:8]))
}

// SetNextPageID links this page to the next one in the heap-file chain.
func (sp *SlottedPage) SetNextPageID(id PageID) {
	binary.LittleEndian.PutUint32(sp.data()[4:8], uint32(id))
	sp.page.MarkDirty()
}

func (sp *SlottedPage) slotOffset(slotID int) int {
	return slottedHeaderSize + slotID*slottedSlotSize
}

func (sp *SlottedPage) readSlot(slotID int) (offset, length uint16) {
	off := sp.slotOffset(slotID)
	d := sp.data()
	return binary.LittleEndian.Uint16(d[off : off+2]), binary.LittleEndian.Uint16(d[off+2 : off+4])
}

func (sp *SlottedPage) writeSlot(slotID int, offset, length uint16) {
	off := sp.slotOffset(slotID)
	d := sp.data()
	binary.LittleEndian.PutUint16(d[off:off+2], offset)
	binary.LittleEndian.PutUint16(d[off+2:off+4], length)
}

// FreeSpace returns the number of unused bytes between the slot directory
// and the tuple region.
func (sp *SlottedPage) FreeSpace() int {
	used := slottedHeaderSize + int(sp.numSlots())*slottedSlotSize
	free := int(sp.freeSpaceEnd()) - used
	if free < 0 {
		return 0
	}
	return free
}

// InsertTuple stores bytes as a new tuple and returns its slot ID.
// Compresses with zstd above compressionThreshold, keeping the compressed
// form only if it is strictly smaller (spec.md §4.3).
func (sp *SlottedPage) InsertTuple(data []byte) (int, error) {
	final := sp.encode(data)
	required := len(final) + slottedSlotSize

	if sp.FreeSpace() < required {
		sp.Compact()
	}
	if sp.FreeSpace() < required {
		return 0, ErrPageFull
	}

	newEnd := int(sp.freeSpaceEnd()) - len(final)
	copy(sp.data()[newEnd:], final)

	slotID := int(sp.numSlots())
	sp.writeSlot(slotID, uint16(newEnd), uint16(len(final)))
	sp.setFreeSpaceEnd(uint16(newEnd))
	sp.setNumSlots(uint16(slotID + 1))
	sp.page.MarkDirty()
	return slotID, nil
}

func (sp *SlottedPage) encode(data []byte) []byte {
	if len(data) > compressionThreshold {
		if c := compress(data); len(c) < len(data) {
			return append([]byte{1}, c...)
		}
	}
	return append([]byte{0}, data...)
}

// GetTuple returns the tuple stored at slotID, or (nil, false) if the slot
// is out of range or tombstoned.
func (sp *SlottedPage) GetTuple(slotID int) ([]byte, bool, error) {
	if slotID < 0 || slotID >= int(sp.numSlots()) {
		return nil, false, nil
	}

	offset, length := sp.readSlot(slotID)
	if offset == 0 {
		return nil, false, nil
	}

	payload := sp.data()[offset : offset+length]
	if len(payload) == 0 {
		return []byte{}, true, nil
	}

	flag, body := payload[0], payload[1:]
	if flag == 1 {
		out, err := decompress(body)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	}

	out := make([]byte, len(body))
	copy(out, body)
	return out, true, nil
}

// UpdateTuple overwrites the bytes stored at slotID with a fresh copy
// appended to the tuple region; it never reuses the old slot's space
// in-place and never changes NumSlots.
func (sp *SlottedPage) UpdateTuple(slotID int, data []byte) error {
	if slotID < 0 || slotID >= int(sp.numSlots()) {
		return errors.Wrap(ErrInvalidSlot, "update out of range")
	}

	final := sp.encode(data)
	required := len(final) + slottedSlotSize

	// The slot being overwritten still occupies space until compaction
	// rewrites it out, so check against current free space the same way
	// InsertTuple does.
	if sp.FreeSpace() < required {
		sp.Compact()
	}
	if sp.FreeSpace() < required {
		return ErrPageFull
	}

	newEnd := int(sp.freeSpaceEnd()) - len(final)
	copy(sp.data()[newEnd:], final)
	sp.writeSlot(slotID, uint16(newEnd), uint16(len(final)))
	sp.setFreeSpaceEnd(uint16(newEnd))
	sp.page.MarkDirty()
	return nil
}

// MarkDeleted tombstones slotID: later GetTuple calls report it absent, but
// the slot ID itself remains, so subsequently inserted tuples never reuse
// it (spec.md §4.3).
func (sp *SlottedPage) MarkDeleted(slotID int) error {
	if slotID < 0 || slotID >= int(sp.numSlots()) {
		return errors.Wrap(ErrInvalidSlot, "delete out of range")
	}
	sp.writeSlot(slotID, 0, 0)
	sp.page.MarkDirty()
	return nil
}

type liveTuple struct {
	slotID int
	offset uint16
	length uint16
	bytes  []byte
}

// Compact repacks every live tuple against the end of the page, in
// descending slot-ID order, so free space is fully reclaimed. Tombstones
// are left untouched; surviving slot IDs and lengths are preserved.
func (sp *SlottedPage) Compact() {
	numSlots := int(sp.numSlots())
	live := make([]liveTuple, 0, numSlots)

	for slotID := 0; slotID < numSlots; slotID++ {
		offset, length := sp.readSlot(slotID)
		if offset == 0 || length == 0 {
			continue
		}
		if int(offset)+int(length) > PageSize {
			continue
		}
		raw := make([]byte, length)
		copy(raw, sp.data()[offset:offset+length])
		live = append(live, liveTuple{slotID: slotID, length: length, bytes: raw})
	}

	end := uint16(PageSize)
	for _, t := range live {
		end -= t.length
		copy(sp.data()[end:], t.bytes)
		sp.writeSlot(t.slotID, end, t.length)
	}
	sp.setFreeSpaceEnd(end)
	sp.page.MarkDirty()
}

// TupleBytesEqual is a small helper the tests use to compare tuple
// payloads.
func TupleBytesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}
