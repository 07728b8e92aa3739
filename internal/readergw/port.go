package readergw

import "io"

// Porter is the minimal transport interface a serial gateway needs.
// The abstraction enables unit testing without reader hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}
