package rdb

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Result is what Executor.Execute returns: either a human-readable message
// or a JSON-like value (spec.md §4.5, §6).
type Result struct {
	Message string
	JSON    string // raw JSON text; empty when Message is set
}

func messageResult(msg string) Result { return Result{Message: msg} }
func jsonResult(raw string) Result    { return Result{JSON: raw} }

// Executor dispatches queries to storage operations against the Buffer
// Pool (spec.md §4.5, §6).
type Executor struct {
	pool          *BufferPool
	authenticator Authenticator
}

// NewExecutor builds an Executor over pool. The Buffer Pool must already
// have every database's Pager registered before queries arrive. No
// Authenticator is installed by default; see SetAuthenticator.
func NewExecutor(pool *BufferPool) *Executor {
	return &Executor{pool: pool}
}

// SetAuthenticator installs auth as the access-control collaborator Execute
// consults before running every query. Passing nil (the default) disables
// the check, since this package ships no concrete Authenticator (spec.md §1
// keeps credential/session storage out of scope) — an embedding application
// supplies its own.
func (e *Executor) SetAuthenticator(auth Authenticator) {
	e.authenticator = auth
}

// checkAccess consults the installed Authenticator, if any, for q's
// required role (spec.md §6).
func (e *Executor) checkAccess(q *Query) error {
	if e.authenticator == nil {
		return nil
	}
	if q.Token == "" {
		return errors.Wrap(ErrInvalidSession, "missing token")
	}
	if err := e.authenticator.CheckAccess(q.Token, q.Database, RequiredRole(q)); err != nil {
		return errors.Wrap(ErrAccessDenied, err.Error())
	}
	return nil
}

// getDBID maps a database name to a stable id: "main" -> 0, everything
// else -> a 32-bit hash of the name (spec.md §4.5).
func getDBID(name string) uint32 {
	if name == "main" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}

// Execute dispatches one of the seven query variants, after consulting the
// installed Authenticator (if any) for the role q requires.
func (e *Executor) Execute(q *Query) (Result, error) {
	if err := e.checkAccess(q); err != nil {
		return Result{}, err
	}

	switch q.Op {
	case OpCreateTable:
		return e.createTable(q)
	case OpDropTable:
		return e.dropTable(q)
	case OpInsert:
		return e.insert(q)
	case OpSelect:
		return e.selectRows(q)
	case OpUpdate:
		return e.update(q)
	case OpDelete:
		return e.delete(q)
	case OpBatch:
		return e.batch(q)
	default:
		return Result{}, errors.Wrapf(ErrUnsupportedFeature, "unknown op %q", q.Op)
	}
}

func (e *Executor) catalogPage(dbID uint32) (*Page, error) {
	return e.pool.FetchPage(GlobalPageID{DBID: dbID, PageID: RootCatalogPage})
}

func (e *Executor) loadCatalog(dbID uint32) (*Catalog, *Page, error) {
	page, err := e.catalogPage(dbID)
	if err != nil {
		return nil, nil, err
	}
	page.RLock()
	catalog, err := DecodeCatalog(page.Data())
	page.RUnlock()
	if err != nil {
		page.Unpin()
		return nil, nil, err
	}
	return catalog, page, nil
}

// loadCatalogForWrite fetches and decodes the catalog page, returning it
// already write-locked. The caller must Unlock it (after writeCatalogLocked
// or on early return) before Unpinning — used by createTable/dropTable so the
// whole read-check-mutate-write sequence runs under one lock acquisition
// (spec.md §5: "writers acquire the page's write lock for the full
// create/drop").
func (e *Executor) loadCatalogForWrite(dbID uint32) (*Catalog, *Page, error) {
	page, err := e.catalogPage(dbID)
	if err != nil {
		return nil, nil, err
	}
	page.Lock()
	catalog, err := DecodeCatalog(page.Data())
	if err != nil {
		page.Unlock()
		page.Unpin()
		return nil, nil, err
	}
	return catalog, page, nil
}

// writeCatalogLocked encodes catalog into page, which must already be
// write-locked by the caller (see loadCatalogForWrite).
func (e *Executor) writeCatalogLocked(page *Page, catalog *Catalog) error {
	buf, err := catalog.Encode()
	if err != nil {
		return err
	}
	copy(page.Data(), buf)
	page.MarkDirty()
	return nil
}

func (e *Executor) createTable(q *Query) (Result, error) {
	dbID := getDBID(q.Database)

	catalog, catalogPage, err := e.loadCatalogForWrite(dbID)
	if err != nil {
		return Result{}, err
	}
	defer catalogPage.Unpin()
	defer catalogPage.Unlock()

	if _, exists := catalog.Get(q.Table); exists {
		return Result{}, errors.Wrapf(ErrTableAlreadyExists, "table %q", q.Table)
	}

	rootPage, err := e.pool.NewPage(dbID)
	if err != nil {
		return Result{}, err
	}
	rootPage.Lock()
	InitSlottedPage(rootPage)
	rootPage.Unlock()
	rootPageID := rootPage.ID()
	rootPage.Unpin()

	indexPage, err := e.pool.NewPage(dbID)
	if err != nil {
		return Result{}, err
	}
	indexPage.Lock()
	InitBTreeRoot(indexPage)
	indexPage.Unlock()
	indexPageID := indexPage.ID()
	indexPage.Unpin()

	columns := make([]Column, 0, len(q.Columns))
	for _, c := range q.Columns {
		columns = append(columns, Column{
			Name:       c.Name,
			Type:       c.Type,
			PrimaryKey: c.PrimaryKey,
			Unique:     c.Unique,
			Nullable:   c.Nullable,
		})
	}

	catalog.Put(&TableInfo{
		Name:            q.Table,
		RootPageID:      uint32(rootPageID),
		IndexRootPageID: uint32(indexPageID),
		Columns:         columns,
	})

	if err := e.writeCatalogLocked(catalogPage, catalog); err != nil {
		return Result{}, err
	}

	log.WithFields(map[string]interface{}{"db": q.Database, "table": q.Table}).Info("table created")
	return messageResult("Table " + q.Table + " created"), nil
}

func (e *Executor) dropTable(q *Query) (Result, error) {
	dbID := getDBID(q.Database)

	catalog, catalogPage, err := e.loadCatalogForWrite(dbID)
	if err != nil {
		return Result{}, err
	}
	defer catalogPage.Unpin()
	defer catalogPage.Unlock()

	if _, exists := catalog.Get(q.Table); !exists {
		return Result{}, errors.Wrapf(ErrTableNotFound, "table %q", q.Table)
	}

	// Data/index pages leak by design (spec.md §4.5).
	catalog.Drop(q.Table)

	if err := e.writeCatalogLocked(catalogPage, catalog); err != nil {
		return Result{}, err
	}
	return messageResult("Table " + q.Table + " dropped"), nil
}

func (e *Executor) insert(q *Query) (Result, error) {
	dbID := getDBID(q.Database)

	catalog, catalogPage, err := e.loadCatalog(dbID)
	if err != nil {
		return Result{}, err
	}
	catalogPage.Unpin()

	table, exists := catalog.Get(q.Table)
	if !exists {
		return Result{}, errors.Wrapf(ErrTableNotFound, "table %q", q.Table)
	}

	pkColumn, hasPK := table.PrimaryKeyColumn()

	for _, doc := range q.Values {
		locator, err := e.insertIntoHeap(dbID, PageID(table.RootPageID), []byte(doc))
		if err != nil {
			return Result{}, err
		}

		if hasPK {
			if key, ok := pkKeyValue(doc, pkColumn); ok {
				index := OpenBTree(e.pool, dbID, PageID(table.IndexRootPageID))
				if err := index.Insert(key, locator); err != nil {
					return Result{}, err
				}
			}
		}
	}

	return messageResult("Inserted"), nil
}

// pkKeyValue extracts the primary-key column's value from doc as a u32, if
// it is present and a non-negative integer within range (spec.md §4.5).
func pkKeyValue(doc, column string) (uint32, bool) {
	field := gjson.Get(doc, column)
	if !field.Exists() || field.Type != gjson.Number {
		return 0, false
	}
	i := field.Int()
	if i < 0 || i > int64(^uint32(0)) {
		return 0, false
	}
	return uint32(i), true
}

// insertIntoHeap walks the heap-file chain from rootPageID, inserting data
// into the first page with room, allocating and linking a new tail page on
// PageFull (spec.md §4.5).
func (e *Executor) insertIntoHeap(dbID uint32, rootPageID PageID, data []byte) (Locator, error) {
	currentID := rootPageID

	for {
		page, err := e.pool.FetchPage(GlobalPageID{DBID: dbID, PageID: currentID})
		if err != nil {
			return Locator{}, err
		}

		page.Lock()
		sp := NewSlottedPage(page)
		slotID, err := sp.InsertTuple(data)
		if err == nil {
			page.Unlock()
			page.Unpin()
			return Locator{PageID: currentID, SlotID: uint16(slotID)}, nil
		}
		if !errors.Is(err, ErrPageFull) {
			page.Unlock()
			page.Unpin()
			return Locator{}, err
		}

		next := sp.NextPageID()
		if next != InvalidPageID {
			page.Unlock()
			page.Unpin()
			currentID = next
			continue
		}

		newPage, err := e.pool.NewPage(dbID)
		if err != nil {
			page.Unlock()
			page.Unpin()
			return Locator{}, err
		}
		newPage.Lock()
		InitSlottedPage(newPage)
		newPage.Unlock()

		sp.SetNextPageID(newPage.ID())
		page.Unlock()
		page.Unpin()

		newPageID := newPage.ID()
		newPage.Unpin()
		currentID = newPageID
	}
}

func (e *Executor) selectRows(q *Query) (Result, error) {
	sel := q.Select
	if sel == nil {
		return Result{}, errors.Wrap(ErrUnsupportedFeature, "select missing operator fields")
	}
	if sel.Join != nil {
		return Result{}, errors.Wrap(ErrUnsupportedFeature, "joins")
	}

	dbID := getDBID(q.Database)
	catalog, catalogPage, err := e.loadCatalog(dbID)
	if err != nil {
		return Result{}, err
	}
	catalogPage.Unpin()

	table, exists := catalog.Get(q.Table)
	if !exists {
		return Result{}, errors.Wrapf(ErrTableNotFound, "table %q", q.Table)
	}

	var rows []string

	if pkColumn, ok := table.PrimaryKeyColumn(); ok && sel.Where != nil &&
		sel.Where.Column == pkColumn && sel.Where.Cmp == "=" {
		if key, ok := toFloat(sel.Where.Value); ok && key >= 0 {
			row, found, err := e.indexLookup(dbID, PageID(table.IndexRootPageID), uint32(key))
			if err != nil {
				return Result{}, err
			}
			if found {
				rows = []string{row}
			}
			rows = applyProjection(rows, sel.Columns)
			return jsonResult(orderLimitOffset(rows, sel.OrderBy, sel.Limit, sel.Offset)), nil
		}
	}

	rows, err = e.heapScan(dbID, PageID(table.RootPageID), sel.Where)
	if err != nil {
		return Result{}, err
	}
	rows = applyProjection(rows, sel.Columns)
	return jsonResult(orderLimitOffset(rows, sel.OrderBy, sel.Limit, sel.Offset)), nil
}

// indexLookup follows the primary-key index path: a single B+ tree search
// plus one tuple fetch (spec.md §4.5).
func (e *Executor) indexLookup(dbID uint32, indexRoot PageID, key uint32) (string, bool, error) {
	index := OpenBTree(e.pool, dbID, indexRoot)
	locator, found, err := index.Search(key)
	if err != nil || !found {
		return "", false, err
	}

	page, err := e.pool.FetchPage(GlobalPageID{DBID: dbID, PageID: locator.PageID})
	if err != nil {
		return "", false, err
	}
	defer page.Unpin()

	page.RLock()
	defer page.RUnlock()

	sp := NewSlottedPage(page)
	data, ok, err := sp.GetTuple(int(locator.SlotID))
	if err != nil || !ok || len(data) == 0 {
		return "", false, err
	}
	return string(data), true, nil
}

// heapScan walks the heap-file chain, returning every live tuple that
// matches where.
func (e *Executor) heapScan(dbID uint32, rootPageID PageID, where *WhereClause) ([]string, error) {
	var rows []string
	currentID := rootPageID

	for currentID != InvalidPageID {
		page, err := e.pool.FetchPage(GlobalPageID{DBID: dbID, PageID: currentID})
		if err != nil {
			return nil, err
		}

		page.RLock()
		sp := NewSlottedPage(page)
		numSlots := sp.numSlots()
		for i := 0; i < int(numSlots); i++ {
			data, ok, err := sp.GetTuple(i)
			if err != nil {
				page.RUnlock()
				page.Unpin()
				return nil, err
			}
			if !ok || len(data) == 0 {
				continue
			}
			doc := string(data)
			if checkFilter(doc, where) {
				rows = append(rows, doc)
			}
		}
		next := sp.NextPageID()
		page.RUnlock()
		page.Unpin()
		currentID = next
	}

	return rows, nil
}

// applyProjection keeps only the named columns in each document, unless
// columns is exactly ["*"].
func applyProjection(rows []string, columns []string) []string {
	if len(columns) == 1 && columns[0] == "*" {
		return rows
	}

	projected := make([]string, len(rows))
	for i, doc := range rows {
		out := "{}"
		for _, col := range columns {
			field := gjson.Get(doc, col)
			if field.Exists() {
				out, _ = sjson.SetRaw(out, col, field.Raw)
			}
		}
		projected[i] = out
	}
	return projected
}

// orderLimitOffset applies order_by, then offset, then limit, in that
// order, and wraps the result as a JSON array (spec.md §4.5).
func orderLimitOffset(rows []string, orderBy *OrderByClause, limit, offset *int) string {
	if orderBy != nil {
		sort.SliceStable(rows, func(i, j int) bool {
			a := gjson.Get(rows[i], orderBy.Column)
			b := gjson.Get(rows[j], orderBy.Column)
			cmp := compareForOrder(a, b, a.Exists(), b.Exists())
			if orderBy.Direction == "DESC" {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if offset != nil && *offset > 0 {
		if *offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[*offset:]
		}
	}

	if limit != nil && *limit >= 0 && *limit < len(rows) {
		rows = rows[:*limit]
	}

	arr := "[]"
	for _, row := range rows {
		arr, _ = sjson.SetRaw(arr, "-1", row)
	}
	return arr
}

func (e *Executor) update(q *Query) (Result, error) {
	dbID := getDBID(q.Database)
	catalog, catalogPage, err := e.loadCatalog(dbID)
	if err != nil {
		return Result{}, err
	}
	catalogPage.Unpin()

	table, exists := catalog.Get(q.Table)
	if !exists {
		return Result{}, errors.Wrapf(ErrTableNotFound, "table %q", q.Table)
	}

	updated := 0
	currentID := PageID(table.RootPageID)

	for currentID != InvalidPageID {
		page, err := e.pool.FetchPage(GlobalPageID{DBID: dbID, PageID: currentID})
		if err != nil {
			return Result{}, err
		}

		page.Lock()
		sp := NewSlottedPage(page)
		numSlots := sp.numSlots()
		for i := 0; i < int(numSlots); i++ {
			data, ok, err := sp.GetTuple(i)
			if err != nil {
				page.Unlock()
				page.Unpin()
				return Result{}, err
			}
			if !ok || len(data) == 0 {
				continue
			}
			doc := string(data)
			if !checkFilter(doc, q.Where) {
				continue
			}

			merged, err := mergeSet(doc, q.Set)
			if err != nil {
				page.Unlock()
				page.Unpin()
				return Result{}, err
			}
			if err := sp.UpdateTuple(i, []byte(merged)); err != nil {
				page.Unlock()
				page.Unpin()
				return Result{}, err
			}
			updated++
		}
		next := sp.NextPageID()
		page.Unlock()
		page.Unpin()
		currentID = next
	}

	return jsonCountResult("Updated", updated), nil
}

// mergeSet applies every field in the raw JSON object set onto doc.
func mergeSet(doc, set string) (string, error) {
	if set == "" {
		return doc, nil
	}
	result := doc
	var mergeErr error
	gjson.Parse(set).ForEach(func(key, value gjson.Result) bool {
		result, mergeErr = sjson.SetRaw(result, key.String(), value.Raw)
		return mergeErr == nil
	})
	return result, mergeErr
}

func (e *Executor) delete(q *Query) (Result, error) {
	dbID := getDBID(q.Database)
	catalog, catalogPage, err := e.loadCatalog(dbID)
	if err != nil {
		return Result{}, err
	}
	catalogPage.Unpin()

	table, exists := catalog.Get(q.Table)
	if !exists {
		return Result{}, errors.Wrapf(ErrTableNotFound, "table %q", q.Table)
	}

	deleted := 0
	currentID := PageID(table.RootPageID)

	for currentID != InvalidPageID {
		page, err := e.pool.FetchPage(GlobalPageID{DBID: dbID, PageID: currentID})
		if err != nil {
			return Result{}, err
		}

		page.Lock()
		sp := NewSlottedPage(page)
		numSlots := sp.numSlots()
		for i := 0; i < int(numSlots); i++ {
			data, ok, err := sp.GetTuple(i)
			if err != nil {
				page.Unlock()
				page.Unpin()
				return Result{}, err
			}
			if !ok || len(data) == 0 {
				continue
			}
			if !checkFilter(string(data), q.Where) {
				continue
			}
			if err := sp.MarkDeleted(i); err != nil {
				page.Unlock()
				page.Unpin()
				return Result{}, err
			}
			deleted++
		}
		next := sp.NextPageID()
		page.Unlock()
		page.Unpin()
		currentID = next
	}

	return jsonCountResult("Deleted", deleted), nil
}

func jsonCountResult(verb string, count int) Result {
	return messageResult(verb + " " + itoa(count) + " rows")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// batch executes sub-queries sequentially, stopping at the first error and
// collecting successful results into a JSON array (spec.md §4.5).
func (e *Executor) batch(q *Query) (Result, error) {
	arr := "[]"
	for i := range q.Batch {
		sub := q.Batch[i]
		sub.Database = sub.DatabaseName(q.Database)
		if sub.Token == "" {
			sub.Token = q.Token
		}

		res, err := e.Execute(&sub)
		if err != nil {
			return Result{}, err
		}

		raw := res.JSON
		if res.Message != "" {
			raw = strconv.Quote(res.Message)
		}
		arr, _ = sjson.SetRaw(arr, "-1", raw)
	}
	return jsonResult(arr), nil
}
