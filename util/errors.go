package util

type StoreError struct {
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type BufferpoolExhaustedError struct {
	*StoreError
}

func NewBufferpoolExhaustedError() *BufferpoolExhaustedError {
	return &BufferpoolExhaustedError{
		StoreError: &StoreError{Message: "all bufferpool frames are pinned"},
	}
}
