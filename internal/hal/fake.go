package hal

import (
	"bytes"
	"sync"

	"github.com/hcigo/hci/internal/packet"
)

// Fake is an in-memory HAL for tests: Inject appends bytes as if they
// arrived from the controller, and Written records everything handed
// to TransmitData.
type Fake struct {
	cb Callbacks

	mu      sync.Mutex
	inbound map[packet.Type]*bytes.Buffer
	written []FakeWrite

	closed   bool
	openErr  error
	writeErr error
}

type FakeWrite struct {
	Type packet.Type
	Data []byte
}

func NewFake() *Fake {
	return &Fake{
		inbound: map[packet.Type]*bytes.Buffer{
			packet.Command: new(bytes.Buffer),
			packet.ACL:     new(bytes.Buffer),
			packet.SCO:     new(bytes.Buffer),
			packet.Event:   new(bytes.Buffer),
		},
	}
}

func (f *Fake) Init(cb Callbacks) error {
	f.cb = cb
	return nil
}

func (f *Fake) Open() error {
	if f.openErr != nil {
		return f.openErr
	}
	f.closed = false
	return nil
}

func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// SetOpenError makes the next Open call fail, for exercising startup
// failure paths.
func (f *Fake) SetOpenError(err error) { f.openErr = err }

// SetWriteError makes every TransmitData call fail.
func (f *Fake) SetWriteError(err error) { f.writeErr = err }

// Inject appends data of the given type and, if a DataReady callback
// is bound, notifies it synchronously — mirroring the real UART's
// demux-then-notify sequencing.
func (f *Fake) Inject(t packet.Type, data []byte) {
	f.mu.Lock()
	f.inbound[t].Write(data)
	f.mu.Unlock()
	if f.cb.DataReady != nil {
		f.cb.DataReady(t)
	}
}

func (f *Fake) ReadData(t packet.Type, dst []byte, block bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.inbound[t]
	if !ok {
		return 0
	}
	n, _ := buf.Read(dst)
	if n < 0 {
		return 0
	}
	return n
}

func (f *Fake) TransmitData(t packet.Type, data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.mu.Lock()
	f.written = append(f.written, FakeWrite{Type: t, Data: cp})
	f.mu.Unlock()
	return nil
}

func (f *Fake) PacketFinished(packet.Type) {}

// Written returns a snapshot of everything transmitted so far.
func (f *Fake) Written() []FakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeWrite, len(f.written))
	copy(out, f.written)
	return out
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ HAL = (*Fake)(nil)
