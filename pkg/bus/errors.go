package bus

import "errors"

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("sync bus is closed")
