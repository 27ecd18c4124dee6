package rdb

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()

	pager, err := Open("mem", newMemoryStorage(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	headerID, err := pager.AllocatePage()
	if err != nil || headerID != 0 {
		t.Fatalf("expected header page 0, got %v (err=%v)", headerID, err)
	}
	if err := pager.WriteHeader(NewDatabaseHeader("main")); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	catalogID, err := pager.AllocatePage()
	if err != nil || catalogID != RootCatalogPage {
		t.Fatalf("expected catalog page %v, got %v (err=%v)", RootCatalogPage, catalogID, err)
	}
	buf, err := NewCatalog().Encode()
	if err != nil {
		t.Fatalf("Encode empty catalog: %v", err)
	}
	catalogPage := newPage(catalogID)
	copy(catalogPage.Data(), buf)
	if err := pager.WritePage(catalogPage); err != nil {
		t.Fatalf("WritePage catalog: %v", err)
	}

	pool := NewBufferPool(256)
	pool.RegisterPager(getDBID("main"), pager)
	return NewExecutor(pool)
}

func mustExecute(t *testing.T, e *Executor, q *Query) Result {
	t.Helper()
	res, err := e.Execute(q)
	if err != nil {
		t.Fatalf("Execute(%+v): %v", q, err)
	}
	return res
}

func createUsersTable(t *testing.T, e *Executor) {
	t.Helper()
	mustExecute(t, e, &Query{
		Op:       OpCreateTable,
		Database: "main",
		Table:    "users",
		Columns: []ColumnDef{
			{Name: "id", Type: "int", PrimaryKey: true},
			{Name: "name", Type: "text"},
		},
	})
}

func TestExecutorCreateTableThenDuplicateFails(t *testing.T) {
	e := newTestExecutor(t)
	createUsersTable(t, e)

	_, err := e.Execute(&Query{Op: OpCreateTable, Database: "main", Table: "users", Columns: []ColumnDef{
		{Name: "id", Type: "int", PrimaryKey: true},
	}})
	if err == nil {
		t.Fatalf("expected error creating a table that already exists")
	}
}

func TestExecutorInsertAndSelectAll(t *testing.T) {
	e := newTestExecutor(t)
	createUsersTable(t, e)

	mustExecute(t, e, &Query{
		Op:       OpInsert,
		Database: "main",
		Table:    "users",
		Values:   []string{`{"id":1,"name":"alice"}`, `{"id":2,"name":"bob"}`},
	})

	res := mustExecute(t, e, &Query{
		Op:       OpSelect,
		Database: "main",
		Table:    "users",
		Select:   &SelectQuery{Columns: []string{"*"}},
	})

	rows := gjson.Parse(res.JSON)
	if !rows.IsArray() || len(rows.Array()) != 2 {
		t.Fatalf("expected 2 rows, got %s", res.JSON)
	}
}

func TestExecutorSelectUsesIndexPathForPKEquality(t *testing.T) {
	e := newTestExecutor(t)
	createUsersTable(t, e)

	mustExecute(t, e, &Query{
		Op: OpInsert, Database: "main", Table: "users",
		Values: []string{`{"id":1,"name":"alice"}`, `{"id":2,"name":"bob"}`},
	})

	res := mustExecute(t, e, &Query{
		Op: OpSelect, Database: "main", Table: "users",
		Select: &SelectQuery{
			Columns: []string{"*"},
			Where:   &WhereClause{Column: "id", Cmp: "=", Value: float64(2)},
		},
	})

	rows := gjson.Parse(res.JSON).Array()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row via index lookup, got %d: %s", len(rows), res.JSON)
	}
	if rows[0].Get("name").String() != "bob" {
		t.Fatalf("expected to find bob, got %s", rows[0].Raw)
	}
}

func TestExecutorSelectProjectionAndOrder(t *testing.T) {
	e := newTestExecutor(t)
	createUsersTable(t, e)

	mustExecute(t, e, &Query{
		Op: OpInsert, Database: "main", Table: "users",
		Values: []string{
			`{"id":1,"name":"carol"}`,
			`{"id":2,"name":"alice"}`,
			`{"id":3,"name":"bob"}`,
		},
	})

	res := mustExecute(t, e, &Query{
		Op: OpSelect, Database: "main", Table: "users",
		Select: &SelectQuery{
			Columns: []string{"name"},
			OrderBy: &OrderByClause{Column: "name", Direction: "ASC"},
		},
	})

	rows := gjson.Parse(res.JSON).Array()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	names := []string{rows[0].Get("name").String(), rows[1].Get("name").String(), rows[2].Get("name").String()}
	want := []string{"alice", "bob", "carol"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected sorted names %v, got %v", want, names)
		}
	}
	if rows[0].Get("id").Exists() {
		t.Fatalf("expected id to be excluded from the projection, got %s", rows[0].Raw)
	}
}

func TestExecutorUpdateAndDelete(t *testing.T) {
	e := newTestExecutor(t)
	createUsersTable(t, e)

	mustExecute(t, e, &Query{
		Op: OpInsert, Database: "main", Table: "users",
		Values: []string{`{"id":1,"name":"alice"}`, `{"id":2,"name":"bob"}`},
	})

	updateRes := mustExecute(t, e, &Query{
		Op: OpUpdate, Database: "main", Table: "users",
		Where: &WhereClause{Column: "id", Cmp: "=", Value: float64(1)},
		Set:   `{"name":"alicia"}`,
	})
	if updateRes.Message != "Updated 1 rows" {
		t.Fatalf("expected 1 row updated, got %q", updateRes.Message)
	}

	selectRes := mustExecute(t, e, &Query{
		Op: OpSelect, Database: "main", Table: "users",
		Select: &SelectQuery{Columns: []string{"*"}, Where: &WhereClause{Column: "id", Cmp: "=", Value: float64(1)}},
	})
	rows := gjson.Parse(selectRes.JSON).Array()
	if len(rows) != 1 || rows[0].Get("name").String() != "alicia" {
		t.Fatalf("expected updated name alicia, got %s", selectRes.JSON)
	}

	deleteRes := mustExecute(t, e, &Query{
		Op: OpDelete, Database: "main", Table: "users",
		Where: &WhereClause{Column: "id", Cmp: "=", Value: float64(2)},
	})
	if deleteRes.Message != "Deleted 1 rows" {
		t.Fatalf("expected 1 row deleted, got %q", deleteRes.Message)
	}

	allRes := mustExecute(t, e, &Query{
		Op: OpSelect, Database: "main", Table: "users",
		Select: &SelectQuery{Columns: []string{"*"}},
	})
	if len(gjson.Parse(allRes.JSON).Array()) != 1 {
		t.Fatalf("expected 1 remaining row after delete, got %s", allRes.JSON)
	}
}

func TestExecutorDropTable(t *testing.T) {
	e := newTestExecutor(t)
	createUsersTable(t, e)

	mustExecute(t, e, &Query{Op: OpDropTable, Database: "main", Table: "users"})

	_, err := e.Execute(&Query{Op: OpSelect, Database: "main", Table: "users", Select: &SelectQuery{Columns: []string{"*"}}})
	if err == nil {
		t.Fatalf("expected select on dropped table to fail")
	}
}

func TestExecutorBatchStopsAtFirstError(t *testing.T) {
	e := newTestExecutor(t)
	createUsersTable(t, e)

	res := mustExecute(t, e, &Query{
		Op:       OpBatch,
		Database: "main",
		Batch: []Query{
			{Op: OpInsert, Table: "users", Values: []string{`{"id":1,"name":"alice"}`}},
			{Op: OpInsert, Table: "users", Values: []string{`{"id":2,"name":"bob"}`}},
		},
	})

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(res.JSON), &arr); err != nil {
		t.Fatalf("unmarshal batch result: %v", err)
	}
	if len(arr) != 2 {
		t.Fatalf("expected 2 batch results, got %d: %s", len(arr), res.JSON)
	}

	_, err := e.Execute(&Query{Op: OpBatch, Database: "main", Batch: []Query{
		{Op: OpDropTable, Table: "does_not_exist"},
		{Op: OpInsert, Table: "users", Values: []string{`{"id":3,"name":"carol"}`}},
	}})
	if err == nil {
		t.Fatalf("expected batch to fail on its first sub-query")
	}

	selectRes := mustExecute(t, e, &Query{Op: OpSelect, Database: "main", Table: "users", Select: &SelectQuery{Columns: []string{"*"}}})
	if len(gjson.Parse(selectRes.JSON).Array()) != 2 {
		t.Fatalf("expected the failed batch's second sub-query to never run, got %s", selectRes.JSON)
	}
}
