package rdb

import (
	"testing"

	"github.com/pkg/errors"
)

func TestPagerAllocatePageGrowsSequentially(t *testing.T) {
	pager, err := Open("mem", newMemoryStorage(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 5; i++ {
		id, err := pager.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage: %v", err)
		}
		if id != PageID(i) {
			t.Fatalf("expected page %d, got %v", i, id)
		}
	}

	if pager.TotalPages() != 5 {
		t.Fatalf("expected 5 total pages, got %d", pager.TotalPages())
	}
}

func TestPagerReadPageOutOfBounds(t *testing.T) {
	pager, err := Open("mem", newMemoryStorage(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = pager.ReadPage(5)
	if !errors.Is(err, ErrPageOutOfBounds) {
		t.Fatalf("expected ErrPageOutOfBounds, got %v", err)
	}
}

func TestOpenRejectsMisalignedStorage(t *testing.T) {
	storage := &memoryStorage{buf: make([]byte, PageSize+1)}
	_, err := Open("mem", storage)
	if !errors.Is(err, ErrCorruptPage) {
		t.Fatalf("expected ErrCorruptPage, got %v", err)
	}
}

func TestPagerHeaderRoundTrip(t *testing.T) {
	pager, err := Open("mem", newMemoryStorage(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := pager.AllocatePage(); err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}

	h := NewDatabaseHeader("main")
	if err := pager.WriteHeader(h); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	readBack, err := pager.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if readBack.DatabaseName != "main" {
		t.Fatalf("expected database name %q, got %q", "main", readBack.DatabaseName)
	}
}
