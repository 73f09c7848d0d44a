package mjpeg

import "errors"

// ErrOutOfRange is returned by [Accumulator.DropPrefix] when asked to drop
// more bytes than are buffered.
var ErrOutOfRange = errors.New("mjpeg: drop prefix out of range")
