package index

import (
	"github.com/jobala/basalt/storage/disk"
)

// GetKeyRange collects the rids of every key in [start, stop].
func (t *BPlusTree[K]) GetKeyRange(start, stop K) ([]disk.Rid, error) {
	it, err := t.BeginFrom(start)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	res := []disk.Rid{}
	for !it.IsEnd() {
		if it.Key() > stop {
			break
		}

		res = append(res, it.Value())
		if err := it.Next(); err != nil {
			return res, err
		}
	}

	return res, nil
}

func (t *BPlusTree[K]) BatchInsert(items map[K]disk.Rid) error {
	for key, rid := range items {
		if _, err := t.Insert(key, rid); err != nil {
			return err
		}
	}
	return nil
}
