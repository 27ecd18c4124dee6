package rdb

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Storage is the minimal file-like interface the Pager needs. Grounded on
// the teacher's btree_test.go MemoryStorage, which implements the same
// surface so tests never touch disk.
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// sizer lets a Storage report its current length without a Stat() call;
// the in-memory test fake implements it, *os.File is handled separately.
type sizer interface {
	Size() int64
}

// Pager owns a single database file: page-granular reads/writes and
// append-only allocation. All I/O is serialized by one mutex; the page
// count is a sequentially-consistent atomic so allocation IDs stay unique
// even under contention (spec.md §4.1, §5).
type Pager struct {
	mu     sync.Mutex
	file   Storage
	path   string
	closer io.Closer

	totalPages int64 // atomic
}

// OpenFile opens (creating if absent) a database file on disk.
func OpenFile(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %v", path)
	}

	pager, err := Open(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	pager.closer = f
	return pager, nil
}

// Open wraps an arbitrary Storage (a real file, or an in-memory fake for
// tests) as a Pager.
func Open(path string, storage Storage) (*Pager, error) {
	size, err := storageSize(storage)
	if err != nil {
		return nil, errors.Wrap(err, "statting storage")
	}

	if size%PageSize != 0 {
		return nil, errors.Wrap(ErrCorruptPage, "file size is not a multiple of PageSize")
	}

	return &Pager{
		file:       storage,
		path:       path,
		totalPages: size / PageSize,
	}, nil
}

func storageSize(s Storage) (int64, error) {
	if sz, ok := s.(sizer); ok {
		return sz.Size(), nil
	}
	if f, ok := s.(*os.File); ok {
		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}
	return 0, errors.New("storage does not support Size() or is not an *os.File")
}

// TotalPages returns the number of pages currently allocated in the file.
func (p *Pager) TotalPages() uint32 {
	return uint32(atomic.LoadInt64(&p.totalPages))
}

// ReadPage reads exactly PageSize bytes starting at the page's offset.
func (p *Pager) ReadPage(id PageID) (*Page, error) {
	if uint32(id) >= p.TotalPages() {
		return nil, errors.Wrapf(ErrPageOutOfBounds, "page %v", id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	page := newPage(id)
	n, err := p.file.ReadAt(page.data[:], int64(id)*PageSize)
	if err != nil && !(err == io.EOF && n == PageSize) {
		return nil, errors.Wrapf(err, "reading page %v", id)
	}
	return page, nil
}

// WritePage writes the page's bytes back to its offset. It does not clear
// the dirty flag; the caller (BufferPool) owns page lifecycle.
func (p *Pager) WritePage(page *Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.file.WriteAt(page.data[:], int64(page.id)*PageSize); err != nil {
		return errors.Wrapf(err, "writing page %v", page.id)
	}
	return nil
}

// AllocatePage atomically grows the file by one page and returns its ID.
func (p *Pager) AllocatePage() (PageID, error) {
	id := PageID(atomic.AddInt64(&p.totalPages, 1) - 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	var zero [PageSize]byte
	if _, err := p.file.WriteAt(zero[:], int64(id)*PageSize); err != nil {
		atomic.AddInt64(&p.totalPages, -1)
		return InvalidPageID, errors.Wrapf(err, "extending file for page %v", id)
	}
	return id, nil
}

// ReadHeader is a convenience wrapper over ReadPage(0).
func (p *Pager) ReadHeader() (DatabaseHeader, error) {
	page, err := p.ReadPage(0)
	if err != nil {
		return DatabaseHeader{}, err
	}
	return DecodeHeader(page.Data())
}

// WriteHeader is a convenience wrapper over WritePage for page 0.
func (p *Pager) WriteHeader(h DatabaseHeader) error {
	buf, err := h.Encode()
	if err != nil {
		return err
	}
	page := newPage(0)
	copy(page.data[:], buf)
	return p.WritePage(page)
}

// Close releases the underlying OS file, if this Pager owns one.
func (p *Pager) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
