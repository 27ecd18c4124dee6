package rdb

import (
	"strings"
	"testing"
)

func sampleTable() *TableInfo {
	return &TableInfo{
		Name:            "users",
		RootPageID:      2,
		IndexRootPageID: 3,
		Columns: []Column{
			{Name: "id", Type: "int", PrimaryKey: true},
			{Name: "email", Type: "text", Unique: true},
			{Name: "bio", Type: "text", Nullable: true},
		},
	}
}

func TestCatalogEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCatalog()
	c.Put(sampleTable())

	buf, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != PageSize {
		t.Fatalf("expected encoded catalog to be zero-padded to PageSize, got %d", len(buf))
	}

	decoded, err := DecodeCatalog(buf)
	if err != nil {
		t.Fatalf("DecodeCatalog: %v", err)
	}

	table, ok := decoded.Get("users")
	if !ok {
		t.Fatalf("expected table %q to round-trip", "users")
	}
	if table.RootPageID != 2 || table.IndexRootPageID != 3 {
		t.Fatalf("expected root/index page ids to round-trip, got %+v", table)
	}
	if len(table.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(table.Columns))
	}

	pk, ok := table.PrimaryKeyColumn()
	if !ok || pk != "id" {
		t.Fatalf("expected primary key column %q, got %q (ok=%v)", "id", pk, ok)
	}
}

func TestCatalogDecodeEmptyBuffer(t *testing.T) {
	buf := make([]byte, PageSize)
	c, err := DecodeCatalog(buf)
	if err != nil {
		t.Fatalf("DecodeCatalog on empty buffer: %v", err)
	}
	if len(c.Tables) != 0 {
		t.Fatalf("expected no tables from an all-zero page")
	}
}

func TestCatalogDropRemovesEntry(t *testing.T) {
	c := NewCatalog()
	c.Put(sampleTable())
	c.Drop("users")

	if _, ok := c.Get("users"); ok {
		t.Fatalf("expected table to be gone after Drop")
	}
}

func TestCatalogEncodeMultipleTablesSorted(t *testing.T) {
	c := NewCatalog()
	c.Put(&TableInfo{Name: "zebras", RootPageID: 4, IndexRootPageID: 5})
	c.Put(sampleTable())

	buf, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	text := string(buf)
	usersAt, zebrasAt := strings.Index(text, "table users "), strings.Index(text, "table zebras ")
	if usersAt < 0 || zebrasAt < 0 || usersAt > zebrasAt {
		t.Fatalf("expected tables encoded in name order, got offsets users=%d zebras=%d", usersAt, zebrasAt)
	}

	decoded, err := DecodeCatalog(buf)
	if err != nil {
		t.Fatalf("DecodeCatalog: %v", err)
	}
	if len(decoded.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(decoded.Tables))
	}
	if _, ok := decoded.Get("zebras"); !ok {
		t.Fatalf("expected table %q to round-trip", "zebras")
	}
}

func TestCatalogEncodeOverflows(t *testing.T) {
	c := NewCatalog()
	for i := 0; i < 2000; i++ {
		c.Put(&TableInfo{
			Name:            "table_with_a_fairly_long_name_" + itoa(i),
			RootPageID:      uint32(i),
			IndexRootPageID: uint32(i),
			Columns: []Column{
				{Name: "id", Type: "int", PrimaryKey: true},
			},
		})
	}

	_, err := c.Encode()
	if err == nil {
		t.Fatalf("expected ErrCatalogOverflow for a catalog too large to fit in one page")
	}
}
