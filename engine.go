package rdb

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// DatabaseExtension is the on-disk file extension this engine uses to
// discover and create database files (spec.md §9 leaves the extension
// choice to the implementer; this package is consistent about it).
const DatabaseExtension = ".rdb"

// Engine ties a Buffer Pool, a directory of database files, and an
// Executor together — the assembly an embedding CLI or server needs,
// itself outside the core's spec'd surface (spec.md §1's "thin adapters").
type Engine struct {
	dataDir  string
	pool     *BufferPool
	executor *Executor

	mu      sync.Mutex
	pagers  map[string]*Pager // name -> pager, for Close()
}

// OpenEngine scans dataDir for *.rdb files and registers each with a fresh
// Buffer Pool of the given page capacity.
func OpenEngine(dataDir string, capacity int) (*Engine, error) {
	pool := NewBufferPool(capacity)
	e := &Engine{
		dataDir:  dataDir,
		pool:     pool,
		executor: NewExecutor(pool),
		pagers:   make(map[string]*Pager),
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return e, nil
		}
		return nil, errors.Wrapf(err, "reading data dir %v", dataDir)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != DatabaseExtension {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), DatabaseExtension)
		if err := e.attach(name); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func (e *Engine) path(name string) string {
	return filepath.Join(e.dataDir, name+DatabaseExtension)
}

func (e *Engine) attach(name string) error {
	pager, err := OpenFile(e.path(name))
	if err != nil {
		return errors.Wrapf(err, "opening database %v", name)
	}

	e.mu.Lock()
	e.pagers[name] = pager
	e.mu.Unlock()

	e.pool.RegisterPager(getDBID(name), pager)
	return nil
}

// CreateDatabase initializes a new database file named name: a header page
// and an empty catalog page, then registers it with the Buffer Pool.
func (e *Engine) CreateDatabase(name string) error {
	path := e.path(name)
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("database %v already exists", name)
	}

	pager, err := OpenFile(path)
	if err != nil {
		return errors.Wrapf(err, "creating database %v", name)
	}

	headerID, err := pager.AllocatePage()
	if err != nil {
		return err
	}
	if headerID != 0 {
		return errors.Errorf("expected header at page 0, got %v", headerID)
	}
	if err := pager.WriteHeader(NewDatabaseHeader(name)); err != nil {
		return err
	}

	catalogID, err := pager.AllocatePage()
	if err != nil {
		return err
	}
	if catalogID != RootCatalogPage {
		return errors.Errorf("expected catalog at page %v, got %v", RootCatalogPage, catalogID)
	}

	catalogPage := newPage(catalogID)
	buf, err := NewCatalog().Encode()
	if err != nil {
		return err
	}
	copy(catalogPage.Data(), buf)
	if err := pager.WritePage(catalogPage); err != nil {
		return err
	}

	e.mu.Lock()
	e.pagers[name] = pager
	e.mu.Unlock()
	e.pool.RegisterPager(getDBID(name), pager)

	log.WithField("database", name).Info("database created")
	return nil
}

// Executor returns the engine's Executor, wired to its Buffer Pool.
func (e *Engine) Executor() *Executor {
	return e.executor
}

// SetAuthenticator installs auth as the engine's access-control
// collaborator, consulted before every query the Executor runs.
func (e *Engine) SetAuthenticator(auth Authenticator) {
	e.executor.SetAuthenticator(auth)
}

// Close flushes every dirty page and closes every open database file.
func (e *Engine) Close() error {
	if err := e.pool.FlushAll(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, pager := range e.pagers {
		if err := pager.Close(); err != nil {
			return errors.Wrapf(err, "closing database %v", name)
		}
	}
	return nil
}
