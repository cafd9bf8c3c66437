package index

import "github.com/jobala/basalt/storage/disk"

// headerPage lives at page 0 and maps index names to their root page
// ids so trees can be reopened by name.
type headerRecord struct {
	Name       string
	RootPageId disk.PageId
}

type headerPage struct {
	Records []headerRecord
}

func (h *headerPage) rootOf(name string) (disk.PageId, bool) {
	for _, record := range h.Records {
		if record.Name == name {
			return record.RootPageId, true
		}
	}
	return disk.INVALID_PAGE_ID, false
}

func (h *headerPage) setRoot(name string, rootPageId disk.PageId) {
	for i := range h.Records {
		if h.Records[i].Name == name {
			h.Records[i].RootPageId = rootPageId
			return
		}
	}
	h.Records = append(h.Records, headerRecord{Name: name, RootPageId: rootPageId})
}
