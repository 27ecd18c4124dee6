package rdb

import (
	"encoding/binary"
)

// B+ Tree Node on-disk layout (spec.md §4.4), 12-byte header:
//   is_leaf:u8  pad:u8  num_keys:u16  parent:u32 (reserved, unused)  next_leaf:u32
// Leaf entries: key:u32 value=(page_id:u32, slot_id:u16) — 10 bytes each.
// Internal layout: [P0][K1 P1][K2 P2]...[Kn Pn] — pointers are 4-byte page IDs.
const (
	btreeHeaderSize = 12
	btreeKeySize    = 4
	btreeValueSize  = 6 // page_id:u32 + slot_id:u16
	leafEntrySize   = btreeKeySize + btreeValueSize
	internalPtrSize = 4
	internalEntrySize = btreeKeySize + internalPtrSize

	// LeafOrder is the maximum number of entries a leaf holds before it
	// must split (spec.md §4.4: LEAF_ORDER = (PAGE_SIZE-HEADER_SIZE)/(KEY_SIZE+VALUE_SIZE)).
	LeafOrder = (PageSize - btreeHeaderSize) / leafEntrySize

	// InternalOrder is the analogous capacity for internal nodes, derived
	// the same way but accounting for the extra P0 pointer; the spec gives
	// only the leaf formula and leaves internal node capacity to the
	// implementer.
	InternalOrder = (PageSize - btreeHeaderSize - internalPtrSize) / internalEntrySize
)

// Locator is the value type stored in a B+ Tree leaf: the location of a
// tuple inside a heap file.
type Locator struct {
	PageID PageID
	SlotID uint16
}

type btreeNode struct {
	page     *Page
	isLeaf   bool
	numKeys  uint16
	nextLeaf PageID

	// Leaf payload.
	leafKeys   []uint32
	leafValues []Locator

	// Internal payload: len(pointers) == len(keys)+1.
	internalKeys     []uint32
	internalPointers []PageID
}

func decodeBTreeNode(page *Page) *btreeNode {
	d := page.Data()
	n := &btreeNode{
		page:     page,
		isLeaf:   d[0] != 0,
		numKeys:  binary.LittleEndian.Uint16(d[2:4]),
		nextLeaf: PageID(binary.LittleEndian.Uint32(d[8:12])),
	}

	if n.isLeaf {
		n.leafKeys = make([]uint32, n.numKeys)
		n.leafValues = make([]Locator, n.numKeys)
		for i := 0; i < int(n.numKeys); i++ {
			off := btreeHeaderSize + i*leafEntrySize
			n.leafKeys[i] = binary.LittleEndian.Uint32(d[off:])
			n.leafValues[i] = Locator{
				PageID: PageID(binary.LittleEndian.Uint32(d[off+4:])),
				SlotID: binary.LittleEndian.Uint16(d[off+8:]),
			}
		}
		return n
	}

	n.internalKeys = make([]uint32, n.numKeys)
	n.internalPointers = make([]PageID, n.numKeys+1)
	off := btreeHeaderSize
	n.internalPointers[0] = PageID(binary.LittleEndian.Uint32(d[off:]))
	off += internalPtrSize
	for i := 0; i < int(n.numKeys); i++ {
		n.internalKeys[i] = binary.LittleEndian.Uint32(d[off:])
		n.internalPointers[i+1] = PageID(binary.LittleEndian.Uint32(d[off+4:]))
		off += internalEntrySize
	}
	return n
}

func (n *btreeNode) encode() {
	d := n.page.Data()
	for i := range d {
		d[i] = 0
	}

	if n.isLeaf {
		d[0] = 1
	} else {
		d[0] = 0
	}
	binary.LittleEndian.PutUint16(d[2:4], n.numKeys)
	binary.LittleEndian.PutUint32(d[8:12], uint32(n.nextLeaf))

	if n.isLeaf {
		for i := 0; i < int(n.numKeys); i++ {
			off := btreeHeaderSize + i*leafEntrySize
			binary.LittleEndian.PutUint32(d[off:], n.leafKeys[i])
			binary.LittleEndian.PutUint32(d[off+4:], uint32(n.leafValues[i].PageID))
			binary.LittleEndian.PutUint16(d[off+8:], n.leafValues[i].SlotID)
		}
	} else {
		off := btreeHeaderSize
		binary.LittleEndian.PutUint32(d[off:], uint32(n.internalPointers[0]))
		off += internalPtrSize
		for i := 0; i < int(n.numKeys); i++ {
			binary.LittleEndian.PutUint32(d[off:], n.internalKeys[i])
			binary.LittleEndian.PutUint32(d[off+4:], uint32(n.internalPointers[i+1]))
			off += internalEntrySize
		}
	}
	n.page.MarkDirty()
}

// InitBTreeRoot marks page as an empty leaf, the state of a freshly
// allocated index root (spec.md §4.4 init()).
func InitBTreeRoot(page *Page) {
	n := &btreeNode{page: page, isLeaf: true, nextLeaf: InvalidPageID}
	n.encode()
}

// BTree is an ordered u32 -> Locator map persisted across pages and fetched
// through the Buffer Pool (spec.md §4.4).
type BTree struct {
	pool       *BufferPool
	dbID       uint32
	rootPageID PageID
}

// OpenBTree attaches to an existing index whose root lives at rootPageID.
func OpenBTree(pool *BufferPool, dbID uint32, rootPageID PageID) *BTree {
	return &BTree{pool: pool, dbID: dbID, rootPageID: rootPageID}
}

func (t *BTree) fetch(id PageID) (*Page, error) {
	return t.pool.FetchPage(GlobalPageID{DBID: t.dbID, PageID: id})
}

// Search descends from the root and returns the value for key, if present.
func (t *BTree) Search(key uint32) (Locator, bool, error) {
	page, err := t.fetch(t.rootPageID)
	if err != nil {
		return Locator{}, false, err
	}
	defer func() { page.Unpin() }()

	for {
		page.RLock()
		node := decodeBTreeNode(page)

		if node.isLeaf {
			for i, k := range node.leafKeys {
				if k == key {
					v := node.leafValues[i]
					page.RUnlock()
					return v, true, nil
				}
			}
			page.RUnlock()
			return Locator{}, false, nil
		}

		next := chooseBranch(node, key)
		page.RUnlock()

		nextPage, err := t.fetch(next)
		if err != nil {
			return Locator{}, false, err
		}
		page.Unpin()
		page = nextPage
	}
}

// chooseBranch implements spec.md §4.4's pointer selection: the subtree for
// the smallest i such that key < K_i, or P_n if key >= K_n, or P0 if the
// node has no keys.
func chooseBranch(node *btreeNode, key uint32) PageID {
	for i, k := range node.internalKeys {
		if key < k {
			return node.internalPointers[i]
		}
	}
	return node.internalPointers[len(node.internalPointers)-1]
}

// stackEntry records one step of the descent so Insert can propagate splits
// back up without re-descending (spec.md §4.4 step 5: "descend with an
// explicit parent stack").
type stackEntry struct {
	pageID   PageID
	childIdx int // index of the pointer in this node's internalPointers that was followed
}

// Insert adds (key, value), splitting leaves and, if necessary, internal
// nodes all the way up to the root (spec.md §4.4). Duplicate keys are
// accepted as a second entry; preventing primary-key duplicates is the
// executor's responsibility.
func (t *BTree) Insert(key uint32, value Locator) error {
	var stack []stackEntry

	pageID := t.rootPageID
	for {
		page, err := t.fetch(pageID)
		if err != nil {
			return err
		}

		page.Lock()
		node := decodeBTreeNode(page)

		if node.isLeaf {
			insertLeafEntry(node, key, value)

			if node.numKeys <= LeafOrder {
				node.encode()
				page.Unlock()
				page.Unpin()
				return nil
			}

			newLeafID, newLeafKey, err := t.splitLeaf(node)
			node.encode()
			page.Unlock()
			page.Unpin()
			if err != nil {
				return err
			}

			return t.propagateSplit(stack, newLeafKey, newLeafID)
		}

		idx := 0
		for i, k := range node.internalKeys {
			if key < k {
				idx = i
				break
			}
			idx = i + 1
		}
		child := node.internalPointers[idx]
		page.Unlock()
		page.Unpin()

		stack = append(stack, stackEntry{pageID: pageID, childIdx: idx})
		pageID = child
	}
}

func insertLeafEntry(node *btreeNode, key uint32, value Locator) {
	pos := len(node.leafKeys)
	for i, k := range node.leafKeys {
		if k > key {
			pos = i
			break
		}
	}

	node.leafKeys = append(node.leafKeys, 0)
	copy(node.leafKeys[pos+1:], node.leafKeys[pos:])
	node.leafKeys[pos] = key

	node.leafValues = append(node.leafValues, Locator{})
	copy(node.leafValues[pos+1:], node.leafValues[pos:])
	node.leafValues[pos] = value

	node.numKeys++
}

// splitLeaf moves the upper half of node's entries into a freshly
// allocated leaf, linking it into the next_leaf chain, and returns the new
// leaf's page ID and its first key (the separator promoted to the parent).
func (t *BTree) splitLeaf(node *btreeNode) (PageID, uint32, error) {
	mid := len(node.leafKeys) / 2

	newPage, err := t.pool.NewPage(t.dbID)
	if err != nil {
		return InvalidPageID, 0, err
	}
	defer newPage.Unpin()

	newPage.Lock()
	newNode := &btreeNode{
		page:       newPage,
		isLeaf:     true,
		leafKeys:   append([]uint32(nil), node.leafKeys[mid:]...),
		leafValues: append([]Locator(nil), node.leafValues[mid:]...),
		nextLeaf:   node.nextLeaf,
	}
	newNode.numKeys = uint16(len(newNode.leafKeys))
	newNode.encode()
	newPage.Unlock()

	separator := newNode.leafKeys[0]

	node.leafKeys = node.leafKeys[:mid]
	node.leafValues = node.leafValues[:mid]
	node.numKeys = uint16(mid)
	node.nextLeaf = newPage.ID()

	return newPage.ID(), separator, nil
}

// propagateSplit inserts (separatorKey, newChildID) into the parent named
// by the top of stack, splitting that parent too if it overflows, all the
// way up to the root. If the stack is empty, the split child was the root
// itself: the root is rewritten in place as a fresh internal node so the
// Catalog's recorded root page ID never needs to change.
func (t *BTree) propagateSplit(stack []stackEntry, separatorKey uint32, newChildID PageID) error {
	if len(stack) == 0 {
		return t.promoteNewRoot(separatorKey, newChildID)
	}

	top := stack[len(stack)-1]
	parentStack := stack[:len(stack)-1]

	page, err := t.fetch(top.pageID)
	if err != nil {
		return err
	}
	defer page.Unpin()

	page.Lock()
	node := decodeBTreeNode(page)

	insertInternalEntry(node, top.childIdx, separatorKey, newChildID)

	if node.numKeys <= InternalOrder {
		node.encode()
		page.Unlock()
		return nil
	}

	newNodeID, newSeparator, err := t.splitInternal(node)
	node.encode()
	page.Unlock()
	if err != nil {
		return err
	}

	return t.propagateSplit(parentStack, newSeparator, newNodeID)
}

// insertInternalEntry inserts a new (key, rightPointer) pair right after
// the pointer at childIdx, which is the pointer that was followed to reach
// the child that just split.
func insertInternalEntry(node *btreeNode, childIdx int, key uint32, rightChild PageID) {
	keyPos := childIdx
	node.internalKeys = append(node.internalKeys, 0)
	copy(node.internalKeys[keyPos+1:], node.internalKeys[keyPos:])
	node.internalKeys[keyPos] = key

	ptrPos := childIdx + 1
	node.internalPointers = append(node.internalPointers, InvalidPageID)
	copy(node.internalPointers[ptrPos+1:], node.internalPointers[ptrPos:])
	node.internalPointers[ptrPos] = rightChild

	node.numKeys++
}

// splitInternal moves the upper half of node's keys/pointers into a
// freshly allocated internal node. The middle key is promoted to the
// parent (not duplicated into either child, per classic B+ tree internal
// splitting).
func (t *BTree) splitInternal(node *btreeNode) (PageID, uint32, error) {
	mid := len(node.internalKeys) / 2
	separator := node.internalKeys[mid]

	newPage, err := t.pool.NewPage(t.dbID)
	if err != nil {
		return InvalidPageID, 0, err
	}
	defer newPage.Unpin()

	newPage.Lock()
	newNode := &btreeNode{
		page:             newPage,
		isLeaf:           false,
		internalKeys:     append([]uint32(nil), node.internalKeys[mid+1:]...),
		internalPointers: append([]PageID(nil), node.internalPointers[mid+1:]...),
	}
	newNode.numKeys = uint16(len(newNode.internalKeys))
	newNode.encode()
	newPage.Unlock()

	node.internalKeys = node.internalKeys[:mid]
	node.internalPointers = node.internalPointers[:mid+1]
	node.numKeys = uint16(mid)

	return newPage.ID(), separator, nil
}

// promoteNewRoot handles a split at the root (spec.md §4.4 step 4). The
// root's page ID is kept stable: its current content is copied into a
// freshly allocated page (the left child), and the root page itself is
// overwritten as a new internal node [oldRootCopy, separatorKey, newChild].
// This avoids having to update the Catalog's index_root_page_id.
func (t *BTree) promoteNewRoot(separatorKey uint32, rightChild PageID) error {
	rootPage, err := t.fetch(t.rootPageID)
	if err != nil {
		return err
	}
	defer rootPage.Unpin()

	rootPage.Lock()
	defer rootPage.Unlock()

	leftPage, err := t.pool.NewPage(t.dbID)
	if err != nil {
		return err
	}
	defer leftPage.Unpin()

	leftPage.Lock()
	copy(leftPage.Data(), rootPage.Data())
	leftPage.MarkDirty()
	leftPage.Unlock()

	newRoot := &btreeNode{
		page:             rootPage,
		isLeaf:           false,
		internalKeys:     []uint32{separatorKey},
		internalPointers: []PageID{leftPage.ID(), rightChild},
		numKeys:          1,
	}
	newRoot.encode()
	return nil
}
