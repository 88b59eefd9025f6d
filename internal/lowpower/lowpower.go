// Package lowpower defines the low-power manager capability the
// outbound scheduler brackets every transmit with, plus a no-op and a
// counting fake for tests.
//
// This is a pure capability interface with no wire format or external
// protocol behind it, so it is implemented directly rather than
// grounded on a third-party library.
package lowpower

import "sync"

// Manager is consulted by the outbound scheduler around every
// dispatch: WakeAssert before handing a packet to the fragmenter,
// TransmitDone once the HAL write returns.
type Manager interface {
	WakeAssert()
	TransmitDone()

	// SendCommand forwards a vendor-specific low-power command (e.g.
	// sleep-mode negotiation) issued through the public facade.
	SendCommand(cmd []byte) error
}

// NoOp is a Manager that does nothing, for controllers with no
// low-power negotiation (most USB-attached controllers).
type NoOp struct{}

func (NoOp) WakeAssert()             {}
func (NoOp) TransmitDone()           {}
func (NoOp) SendCommand([]byte) error { return nil }

// Counting is a Manager that records call counts, for tests asserting
// the scheduler brackets every dispatch correctly.
type Counting struct {
	mu           sync.Mutex
	wakeAsserts  int
	transmitDone int
	commands     [][]byte
}

func NewCounting() *Counting { return &Counting{} }

func (c *Counting) WakeAssert() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wakeAsserts++
}

func (c *Counting) TransmitDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transmitDone++
}

func (c *Counting) SendCommand(cmd []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(cmd))
	copy(cp, cmd)
	c.commands = append(c.commands, cp)
	return nil
}

func (c *Counting) Counts() (wakeAsserts, transmitDone int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakeAsserts, c.transmitDone
}

func (c *Counting) Commands() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.commands))
	copy(out, c.commands)
	return out
}

var _ Manager = NoOp{}
var _ Manager = (*Counting)(nil)
