package rdb

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"
)

// Column describes one column of a TableInfo (spec.md §3).
type Column struct {
	Name       string `parser:"@Ident"`
	Type       string `parser:"@Ident"`
	PrimaryKey bool   `parser:"( @\"pk\""`
	Unique     bool   `parser:"| @\"unique\""`
	Nullable   bool   `parser:"| @\"null\" )*"`
}

// TableInfo is one entry of the Catalog: a table's name, its heap and index
// root pages, and its columns (spec.md §3).
type TableInfo struct {
	Name            string   `parser:"\"table\" @Ident"`
	RootPageID      uint32   `parser:"\"root\" \"=\" @Int"`
	IndexRootPageID uint32   `parser:"\"index\" \"=\" @Int"`
	Columns         []Column `parser:"\"{\" (\"column\" @@)* \"}\""`
}

// PrimaryKeyColumn returns the name of the table's primary-key column, if
// any, and whether one exists.
func (t *TableInfo) PrimaryKeyColumn() (string, bool) {
	for _, col := range t.Columns {
		if col.PrimaryKey {
			return col.Name, true
		}
	}
	return "", false
}

// Catalog is the page-1 mapping from table name to TableInfo (spec.md §3).
// It is serialized as a self-describing text encoding; trailing zero bytes
// are ignored on read.
type Catalog struct {
	Tables map[string]*TableInfo
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{Tables: make(map[string]*TableInfo)}
}

// catalogFile is the participle grammar root: a catalog page is a sequence
// of table records. Repurposed from the teacher's SQL grammar (query.go) to
// describe the on-disk text encoding instead of a query language — spec.md
// treats SQL-text parsing as out of scope, but never rules out parsing a
// simpler self-describing grammar for the catalog itself.
type catalogFile struct {
	Tables []*TableInfo `parser:"@@*"`
}

var catalogLexer = lexer.MustSimple([]lexer.Rule{
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Punct", Pattern: `[{}=]`},
	{Name: "whitespace", Pattern: `\s+`},
})

var catalogParser = participle.MustBuild[catalogFile](
	participle.Lexer(catalogLexer),
	participle.UseLookahead(2),
)

// Encode serializes the catalog into a PageSize-byte buffer, zero-padded.
// Returns ErrCatalogOverflow if the text encoding does not fit in one page.
func (c *Catalog) Encode() ([]byte, error) {
	var b strings.Builder
	for _, name := range c.sortedNames() {
		t := c.Tables[name]
		fmt.Fprintf(&b, "table %s root=%d index=%d {\n", t.Name, t.RootPageID, t.IndexRootPageID)
		for _, col := range t.Columns {
			fmt.Fprintf(&b, "  column %s %s", col.Name, col.Type)
			if col.PrimaryKey {
				b.WriteString(" pk")
			}
			if col.Unique {
				b.WriteString(" unique")
			}
			if col.Nullable {
				b.WriteString(" null")
			}
			b.WriteString("\n")
		}
		b.WriteString("}\n")
	}

	text := b.String()
	if len(text) > PageSize {
		return nil, errors.Wrapf(ErrCatalogOverflow, "catalog text is %d bytes", len(text))
	}

	buf := make([]byte, PageSize)
	copy(buf, text)
	return buf, nil
}

// DecodeCatalog parses a PageSize-byte buffer previously written by Encode.
// Trailing zero bytes are trimmed before parsing.
func DecodeCatalog(buf []byte) (*Catalog, error) {
	text := strings.TrimRight(string(buf), "\x00")
	text = strings.TrimSpace(text)

	c := NewCatalog()
	if text == "" {
		return c, nil
	}

	parsed, err := catalogParser.ParseString("", text)
	if err != nil {
		return nil, errors.Wrap(ErrCorruptPage, err.Error())
	}

	for _, t := range parsed.Tables {
		c.Tables[t.Name] = t
	}
	return c, nil
}

func (c *Catalog) sortedNames() []string {
	names := make([]string, 0, len(c.Tables))
	for name := range c.Tables {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// Get returns the named table's info, or false if it does not exist.
func (c *Catalog) Get(name string) (*TableInfo, bool) {
	t, ok := c.Tables[name]
	return t, ok
}

// Put inserts or replaces a table entry.
func (c *Catalog) Put(t *TableInfo) {
	c.Tables[t.Name] = t
}

// Drop removes a table entry, if present. Its heap and index pages are not
// reclaimed (spec.md §4.5's DropTable: "Data/index pages leak by design").
func (c *Catalog) Drop(name string) {
	delete(c.Tables, name)
}
