package util

import (
	"fmt"

	"github.com/jobala/basalt/storage/disk"
	"github.com/vmihailenco/msgpack"
)

// ToPageImage encodes obj into a fixed PAGE_SIZE buffer.
func ToPageImage[T any](obj T) ([]byte, error) {
	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}
	if len(data) > disk.PAGE_SIZE {
		return nil, &StoreError{
			Message: fmt.Sprintf("encoded page of %d bytes exceeds the page size", len(data)),
		}
	}

	res := make([]byte, disk.PAGE_SIZE)
	copy(res, data)

	return res, nil
}

// FromPageImage decodes a page image produced by ToPageImage. A blank
// page image decodes to the zero value.
func FromPageImage[T any](data []byte) (T, error) {
	var res T

	if len(data) == 0 || data[0] == 0 {
		return res, nil
	}

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}

	return res, nil
}
