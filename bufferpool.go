package rdb

import (
	"sync"

	"github.com/pkg/errors"
)

// BufferPool is a process-wide, bounded cache of pages across every
// registered database (spec.md §4.2). Two locks protect it: one for the LRU
// map, one for the Pager registry. Each cached page carries its own
// reader/writer lock, acquired by callers after the cache lookup returns
// (spec.md §5) — the cache lock is never held across file I/O; a page being
// written back stays locked for the duration of its own write.
type BufferPool struct {
	cacheMu sync.Mutex
	cache   *lruCache

	pagerMu sync.Mutex
	pagers  map[uint32]*Pager
}

// NewBufferPool creates a pool that caches at most capacity pages across all
// registered databases.
func NewBufferPool(capacity int) *BufferPool {
	return &BufferPool{
		cache:  newLRUCache(capacity),
		pagers: make(map[uint32]*Pager),
	}
}

// RegisterPager installs (or idempotently replaces) the Pager backing dbID.
func (pool *BufferPool) RegisterPager(dbID uint32, pager *Pager) {
	pool.pagerMu.Lock()
	defer pool.pagerMu.Unlock()
	pool.pagers[dbID] = pager
}

func (pool *BufferPool) pagerFor(dbID uint32) (*Pager, error) {
	pool.pagerMu.Lock()
	defer pool.pagerMu.Unlock()
	pager, ok := pool.pagers[dbID]
	if !ok {
		return nil, errors.Wrapf(ErrDatabaseNotRegistered, "db %d", dbID)
	}
	return pager, nil
}

// FetchPage returns the cached page for id, pinned against eviction. The
// caller must call page.Unpin() once done with the handle. On a cache miss
// the page is loaded through the database's registered Pager; the cache
// lock is released before that I/O happens and reacquired only to insert.
func (pool *BufferPool) FetchPage(id GlobalPageID) (*Page, error) {
	pool.cacheMu.Lock()
	if page := pool.cache.get(id); page != nil {
		page.Pin()
		pool.cacheMu.Unlock()
		return page, nil
	}
	pool.cacheMu.Unlock()

	pager, err := pool.pagerFor(id.DBID)
	if err != nil {
		return nil, err
	}

	page, err := pager.ReadPage(id.PageID)
	if err != nil {
		return nil, err
	}

	return pool.insert(id, page)
}

// NewPage allocates a fresh page through the database's Pager and inserts it
// into the cache, pinned, following the same eviction policy as FetchPage.
func (pool *BufferPool) NewPage(dbID uint32) (*Page, error) {
	pager, err := pool.pagerFor(dbID)
	if err != nil {
		return nil, err
	}

	id, err := pager.AllocatePage()
	if err != nil {
		return nil, err
	}

	page := newPage(id)
	return pool.insert(GlobalPageID{DBID: dbID, PageID: id}, page)
}

func (pool *BufferPool) insert(id GlobalPageID, page *Page) (*Page, error) {
	page.Pin()

	pool.cacheMu.Lock()
	evictedID, evictedPage, evicted := pool.cache.put(id, page)
	pool.cacheMu.Unlock()

	if !evicted {
		return page, nil
	}

	if err := pool.writeBack(evictedID, evictedPage); err != nil {
		return nil, err
	}
	return page, nil
}

func (pool *BufferPool) writeBack(id GlobalPageID, page *Page) error {
	page.RLock()
	defer page.RUnlock()

	if !page.IsDirty() {
		return nil
	}

	log.WithFields(pageFields(id)).Debug("flushing evicted dirty page")

	pager, err := pool.pagerFor(id.DBID)
	if err != nil {
		return err
	}
	return pager.WritePage(page)
}

// FlushAll writes every dirty cached page through its Pager and clears the
// dirty flag.
func (pool *BufferPool) FlushAll() error {
	var ids []GlobalPageID
	var pages []*Page
	pool.cacheMu.Lock()
	pool.cache.forEach(func(id GlobalPageID, page *Page) bool {
		ids = append(ids, id)
		pages = append(pages, page)
		return true
	})
	pool.cacheMu.Unlock()

	for i, page := range pages {
		page.Lock()
		var err error
		if page.IsDirty() {
			var pager *Pager
			if pager, err = pool.pagerFor(ids[i].DBID); err == nil {
				err = pager.WritePage(page)
			}
			if err == nil {
				page.markClean()
			}
		}
		page.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}
