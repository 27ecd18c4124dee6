package rdb

import (
	"bytes"
	"strings"
	"testing"
)

func TestSlottedPageInsertGet(t *testing.T) {
	sp := InitSlottedPage(newPage(0))

	id, err := sp.InsertTuple([]byte("hello"))
	if err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}

	got, ok, err := sp.GetTuple(id)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if !ok {
		t.Fatalf("expected tuple to be present")
	}
	if !TupleBytesEqual(got, []byte("hello")) {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestSlottedPageCompressesLargeTuples(t *testing.T) {
	sp := InitSlottedPage(newPage(0))

	data := []byte(strings.Repeat("a", 200))
	id, err := sp.InsertTuple(data)
	if err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	if offset, _ := sp.readSlot(id); sp.data()[offset] != 1 {
		t.Fatalf("expected a %d-byte tuple to be stored compressed", len(data))
	}

	got, ok, err := sp.GetTuple(id)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if !ok || !bytes.Equal(got, data) {
		t.Fatalf("expected round-tripped tuple to match original, got len %d", len(got))
	}
}

func TestSlottedPageTombstoneAfterDelete(t *testing.T) {
	sp := InitSlottedPage(newPage(0))

	id, err := sp.InsertTuple([]byte("gone"))
	if err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	if err := sp.MarkDeleted(id); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	_, ok, err := sp.GetTuple(id)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if ok {
		t.Fatalf("expected tombstoned slot to read as absent")
	}
}

func TestSlottedPageUpdateDoesNotChangeSlotID(t *testing.T) {
	sp := InitSlottedPage(newPage(0))

	id, err := sp.InsertTuple([]byte("v1"))
	if err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	before := sp.numSlots()

	if err := sp.UpdateTuple(id, []byte("v2-longer")); err != nil {
		t.Fatalf("UpdateTuple: %v", err)
	}

	if sp.numSlots() != before {
		t.Fatalf("UpdateTuple must not change NumSlots")
	}

	got, ok, err := sp.GetTuple(id)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if !ok || string(got) != "v2-longer" {
		t.Fatalf("expected updated value, got %q", got)
	}
}

func TestSlottedPageCompactPreservesSlotIDs(t *testing.T) {
	sp := InitSlottedPage(newPage(0))

	var ids []int
	for i := 0; i < 5; i++ {
		id, err := sp.InsertTuple([]byte{byte('a' + i)})
		if err != nil {
			t.Fatalf("InsertTuple: %v", err)
		}
		ids = append(ids, id)
	}

	if err := sp.MarkDeleted(ids[1]); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}
	if err := sp.MarkDeleted(ids[3]); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	sp.Compact()

	for i, id := range ids {
		got, ok, err := sp.GetTuple(id)
		if err != nil {
			t.Fatalf("GetTuple(%d): %v", id, err)
		}
		if i == 1 || i == 3 {
			if ok {
				t.Fatalf("slot %d should remain tombstoned after compaction", id)
			}
			continue
		}
		if !ok || got[0] != byte('a'+i) {
			t.Fatalf("slot %d: expected %q live after compaction, got %q (ok=%v)", id, []byte{byte('a' + i)}, got, ok)
		}
	}
}

func TestSlottedPageInsertFailsWhenFull(t *testing.T) {
	sp := InitSlottedPage(newPage(0))

	chunk := bytes.Repeat([]byte{0xFF}, 512)
	var lastErr error
	for i := 0; i < PageSize; i++ {
		_, err := sp.InsertTuple(chunk)
		if err != nil {
			lastErr = err
			break
		}
	}

	if lastErr != ErrPageFull {
		t.Fatalf("expected ErrPageFull eventually, got %v", lastErr)
	}
}

func TestSlottedPageHeapChainLink(t *testing.T) {
	sp := InitSlottedPage(newPage(0))
	if sp.NextPageID() != InvalidPageID {
		t.Fatalf("expected fresh page to have no next link")
	}

	sp.SetNextPageID(PageID(7))
	if sp.NextPageID() != PageID(7) {
		t.Fatalf("expected next page id 7, got %v", sp.NextPageID())
	}
}
