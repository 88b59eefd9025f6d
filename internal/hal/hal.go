// Package hal defines the byte-transport contract the rest of the
// stack treats as an external collaborator, plus a real Linux
// implementation over a character device and a fake for tests.
package hal

import "github.com/hcigo/hci/internal/packet"

// Callbacks is what a HAL implementation invokes back into the owner.
type Callbacks struct {
	// DataReady is invoked when bytes of the given type may be
	// available to read. The owner's reassembler drains them with
	// ReadData until it returns 0.
	DataReady func(t packet.Type)
}

// HAL is the byte-transport contract. Init binds callbacks once at
// startup; Open/Close bracket the transport's lifetime; ReadData and
// TransmitData move bytes; PacketFinished acknowledges a fully
// consumed inbound packet so the HAL can release any transport-level
// backpressure.
type HAL interface {
	Init(cb Callbacks) error
	Open() error
	Close() error

	// ReadData performs a non-blocking read (when block is false) of
	// up to len(dst) bytes of the given type, returning the number
	// actually read — possibly fewer than requested, possibly zero.
	ReadData(t packet.Type, dst []byte, block bool) int

	// TransmitData is a blocking write of a fully-framed packet.
	TransmitData(t packet.Type, data []byte) error

	PacketFinished(t packet.Type)
}
