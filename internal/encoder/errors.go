package encoder

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedInput  = errors.New("unsupported input format")
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

// EncodeError reports an unreadable, corrupt or unsupported input.
type EncodeError struct {
	Path string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
