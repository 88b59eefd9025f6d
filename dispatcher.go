package hci

import (
	"sync"

	"github.com/hcigo/hci/internal/packet"
)

// UpwardHandler receives a reassembled inbound packet's payload bytes.
type UpwardHandler func(data []byte)

// UpwardDispatcher routes reassembled inbound packets to per-type
// subscribers, keyed by packet type (ACL, SCO, or EVENT — commands
// never arrive inbound). One handler per type; a later Subscribe call
// replaces the previous handler for that type.
type UpwardDispatcher struct {
	mu       sync.RWMutex
	handlers map[PacketType]UpwardHandler
}

func NewUpwardDispatcher() *UpwardDispatcher {
	return &UpwardDispatcher{handlers: make(map[PacketType]UpwardHandler)}
}

// Subscribe registers fn as the handler for t, replacing any previous
// subscription.
func (d *UpwardDispatcher) Subscribe(t PacketType, fn UpwardHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = fn
}

// Unsubscribe removes the handler for t, if any.
func (d *UpwardDispatcher) Unsubscribe(t PacketType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, t)
}

// dispatch is the scheduler's UpwardFunc: it looks up the handler for
// the packet's type, copies the payload out, releases the packet, and
// invokes the handler with the copy.
func (d *UpwardDispatcher) dispatch(p *packet.Packet) {
	defer p.Release()
	t := p.Event.Type()

	d.mu.RLock()
	fn := d.handlers[t]
	d.mu.RUnlock()
	if fn == nil {
		return
	}
	data := append([]byte(nil), p.Data()...)
	fn(data)
}
