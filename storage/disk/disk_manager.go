package disk

import (
	"fmt"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack"
)

// diskMeta is persisted in the file's first block so that allocation
// state survives a reopen.
type diskMeta struct {
	NextPageId PageId
	FreeIds    []PageId
}

type DiskManager struct {
	mu           sync.Mutex
	dbFile       *os.File
	meta         diskMeta
	pageCapacity int64
}

func NewManager(file *os.File) (*DiskManager, error) {
	dm := &DiskManager{
		dbFile:       file,
		pageCapacity: DEFAULT_PAGE_CAPACITY,
	}

	if err := dm.loadMeta(); err != nil {
		return nil, err
	}

	return dm, nil
}

// ReadPage returns the PAGE_SIZE content of the given page. Pages that
// were allocated but never written read back as zeroes.
func (dm *DiskManager) ReadPage(pageId PageId) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if pageId < 0 {
		return nil, fmt.Errorf("reading invalid page id %d", pageId)
	}

	buf := make([]byte, PAGE_SIZE)
	offset := dm.pageOffset(pageId)

	fileInfo, err := dm.dbFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("error inspecting db file: %v", err)
	}
	if offset+PAGE_SIZE > fileInfo.Size() {
		return buf, nil
	}

	if _, err := dm.dbFile.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("error reading from offset %d: %v", offset, err)
	}

	return buf, nil
}

func (dm *DiskManager) WritePage(pageId PageId, data []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if pageId < 0 {
		return fmt.Errorf("writing invalid page id %d", pageId)
	}
	if len(data) != PAGE_SIZE {
		return fmt.Errorf("page %d write of %d bytes, expected %d", pageId, len(data), PAGE_SIZE)
	}

	if err := dm.ensureCapacity(int64(pageId) + 2); err != nil {
		return err
	}

	offset := dm.pageOffset(pageId)
	if _, err := dm.dbFile.WriteAt(data, offset); err != nil {
		return fmt.Errorf("error writing at offset %d: %v", offset, err)
	}

	return nil
}

// AllocatePage hands out the next page id, reusing deallocated ids
// before growing the file.
func (dm *DiskManager) AllocatePage() PageId {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var pageId PageId
	if len(dm.meta.FreeIds) > 0 {
		pageId = dm.meta.FreeIds[0]
		dm.meta.FreeIds = dm.meta.FreeIds[1:]
	} else {
		pageId = dm.meta.NextPageId
		dm.meta.NextPageId += 1
	}

	_ = dm.persistMeta()
	return pageId
}

func (dm *DiskManager) DeallocatePage(pageId PageId) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if pageId <= HEADER_PAGE_ID {
		return
	}

	dm.meta.FreeIds = append(dm.meta.FreeIds, pageId)
	_ = dm.persistMeta()
}

func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := dm.persistMeta(); err != nil {
		return err
	}
	return dm.dbFile.Sync()
}

func (dm *DiskManager) Close() error {
	if err := dm.Sync(); err != nil {
		return err
	}
	return dm.dbFile.Close()
}

// pageOffset maps a page id to its file offset. Block 0 of the file
// holds the metadata, so page ids are shifted by one block.
func (dm *DiskManager) pageOffset(pageId PageId) int64 {
	return (int64(pageId) + 1) * PAGE_SIZE
}

func (dm *DiskManager) ensureCapacity(blocks int64) error {
	if blocks <= dm.pageCapacity {
		return nil
	}

	for dm.pageCapacity < blocks {
		dm.pageCapacity *= 2
	}

	if err := os.Truncate(dm.dbFile.Name(), dm.pageCapacity*PAGE_SIZE); err != nil {
		return fmt.Errorf("error resizing db file: %v", err)
	}
	return nil
}

func (dm *DiskManager) loadMeta() error {
	fileInfo, err := dm.dbFile.Stat()
	if err != nil {
		return fmt.Errorf("error inspecting db file: %v", err)
	}

	if fileInfo.Size() >= PAGE_SIZE {
		if fileInfo.Size() > dm.pageCapacity*PAGE_SIZE {
			dm.pageCapacity = (fileInfo.Size() + PAGE_SIZE - 1) / PAGE_SIZE
		}

		buf := make([]byte, PAGE_SIZE)
		if _, err := dm.dbFile.ReadAt(buf, 0); err != nil {
			return fmt.Errorf("error reading db metadata: %v", err)
		}
		if buf[0] != 0 {
			return msgpack.Unmarshal(buf, &dm.meta)
		}
	}

	// fresh db file, page 0 becomes the catalog header
	dm.meta = diskMeta{NextPageId: 1}
	if err := dm.ensureCapacity(2); err != nil {
		return err
	}
	return dm.persistMeta()
}

func (dm *DiskManager) persistMeta() error {
	data, err := msgpack.Marshal(dm.meta)
	if err != nil {
		return fmt.Errorf("error encoding db metadata: %v", err)
	}
	if len(data) > PAGE_SIZE {
		return fmt.Errorf("db metadata of %d bytes no longer fits its block", len(data))
	}

	buf := make([]byte, PAGE_SIZE)
	copy(buf, data)

	if _, err := dm.dbFile.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("error writing db metadata: %v", err)
	}
	return nil
}
