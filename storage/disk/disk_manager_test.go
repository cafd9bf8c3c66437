package disk

import (
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiskManager(t *testing.T) {
	t.Run("page ids increase monotonically from 1", func(t *testing.T) {
		file := CreateDbFile(t)
		t.Cleanup(func() {
			_ = os.Remove(file.Name())
		})

		dm, err := NewManager(file)
		assert.NoError(t, err)

		assert.Equal(t, PageId(1), dm.AllocatePage())
		assert.Equal(t, PageId(2), dm.AllocatePage())
		assert.Equal(t, PageId(3), dm.AllocatePage())
	})

	t.Run("allocate reuses deallocated page ids", func(t *testing.T) {
		file := CreateDbFile(t)
		t.Cleanup(func() {
			_ = os.Remove(file.Name())
		})

		dm, err := NewManager(file)
		assert.NoError(t, err)

		_ = dm.AllocatePage()
		second := dm.AllocatePage()
		_ = dm.AllocatePage()

		dm.DeallocatePage(second)
		assert.Equal(t, second, dm.AllocatePage())
		assert.Equal(t, PageId(4), dm.AllocatePage())
	})

	t.Run("test reading and writing a page", func(t *testing.T) {
		file := CreateDbFile(t)
		t.Cleanup(func() {
			_ = os.Remove(file.Name())
		})

		dm, err := NewManager(file)
		assert.NoError(t, err)

		buf := make([]byte, PAGE_SIZE)
		copy(buf, []byte("hello world"))

		assert.NoError(t, dm.WritePage(1, buf))

		res, err := dm.ReadPage(1)
		assert.NoError(t, err)
		assert.Equal(t, buf, res)
	})

	t.Run("unwritten pages read back as zeroes", func(t *testing.T) {
		file := CreateDbFile(t)
		t.Cleanup(func() {
			_ = os.Remove(file.Name())
		})

		dm, err := NewManager(file)
		assert.NoError(t, err)

		res, err := dm.ReadPage(7)
		assert.NoError(t, err)
		assert.Equal(t, make([]byte, PAGE_SIZE), res)
	})

	t.Run("test db file gets resized when full", func(t *testing.T) {
		file := CreateDbFile(t)
		t.Cleanup(func() {
			_ = os.Remove(file.Name())
		})

		dm, err := NewManager(file)
		assert.NoError(t, err)

		buf := make([]byte, PAGE_SIZE)
		assert.NoError(t, dm.WritePage(PageId(DEFAULT_PAGE_CAPACITY+5), buf))
		assert.Equal(t, int64(DEFAULT_PAGE_CAPACITY*2), dm.pageCapacity)

		fileInfo, err := os.Stat(file.Name())
		assert.NoError(t, err)
		assert.Equal(t, dm.pageCapacity*PAGE_SIZE, fileInfo.Size())
	})

	t.Run("allocation state survives a reopen", func(t *testing.T) {
		file := CreateDbFile(t)
		t.Cleanup(func() {
			_ = os.Remove(file.Name())
		})

		dm, err := NewManager(file)
		assert.NoError(t, err)

		_ = dm.AllocatePage()
		_ = dm.AllocatePage()
		dm.DeallocatePage(1)
		assert.NoError(t, dm.Close())

		reopened, err := os.OpenFile(file.Name(), os.O_RDWR, 0644)
		assert.NoError(t, err)

		dm2, err := NewManager(reopened)
		assert.NoError(t, err)

		assert.Equal(t, PageId(1), dm2.AllocatePage())
		assert.Equal(t, PageId(3), dm2.AllocatePage())
	})
}

func CreateDbFile(t *testing.T) *os.File {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating db file\n%v", err))
	}

	// create 4kb file
	_ = os.Truncate(file.Name(), PAGE_SIZE)
	fileInfo, err := os.Stat(file.Name())
	assert.NoError(t, err)
	assert.Equal(t, int64(PAGE_SIZE), fileInfo.Size())
	return file
}
