// Package fragmenter splits outbound ACL packets into MTU-sized
// Bluetooth ACL fragments and reassembles inbound fragments keyed by
// connection handle, mirroring the packet boundary (PB) flag
// convention real L2CAP stacks use over HCI ACL.
package fragmenter

import (
	"encoding/binary"
	"sync"

	"github.com/hcigo/hci/internal/packet"
)

// Packet boundary flag values, packed into bits 4-5 of the second ACL
// preamble byte alongside the connection handle's high nibble.
const (
	pbFirstFlushable    = 0x00
	pbContinuing        = 0x01
	pbFirstNonFlushable = 0x02
)

const defaultMTU = 672 // matches a conservative default ACL data MTU

// Callbacks the fragmenter dispatches into. These are supplied by the
// lifecycle controller at Init and connect the fragmenter to the HAL
// and the upper stack without a back-reference to either.
type Callbacks struct {
	// TransmitFragment writes one fragment to the HAL (after btsnoop
	// logging, which the caller performs) and, when sendDone is true
	// and the fragment is not a command, should notify the upper
	// stack that the whole logical packet has left the building.
	TransmitFragment func(fragment *packet.Packet, sendDone bool) error

	// DispatchReassembled delivers a fully reassembled inbound packet
	// upward, keyed by fragment.Event & EventTypeMask.
	DispatchReassembled func(p *packet.Packet)

	// AllocFragment allocates a fresh outbound packet buffer of the
	// requested size; Release returns it to the allocator pool.
	AllocFragment func(size int) *packet.Packet
}

// Fragmenter is the outbound-split / inbound-reassemble contract.
type Fragmenter interface {
	Init(cb Callbacks)
	Cleanup()
	FragmentAndDispatch(p *packet.Packet) error
	ReassembleAndDispatch(p *packet.Packet)
}

// L2CAP fragments and reassembles ACL traffic using the standard PB
// flag convention; SCO, EVENT and COMMAND packets pass through
// untouched since only ACL carries L2CAP frames that can exceed MTU.
type L2CAP struct {
	mtu int
	cb  Callbacks

	mu      sync.Mutex
	pending map[uint16]*reassembly
}

type reassembly struct {
	handle   uint16
	l2capLen int
	buf      []byte
}

func New(mtu int) *L2CAP {
	if mtu <= 0 {
		mtu = defaultMTU
	}
	return &L2CAP{mtu: mtu, pending: make(map[uint16]*reassembly)}
}

func (f *L2CAP) Init(cb Callbacks) { f.cb = cb }

func (f *L2CAP) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = make(map[uint16]*reassembly)
}

// FragmentAndDispatch splits p's ACL body into MTU-sized fragments,
// each carrying the same connection handle with the continuing PB
// flag set on every fragment after the first. Non-ACL packets are
// dispatched as a single fragment.
func (f *L2CAP) FragmentAndDispatch(p *packet.Packet) error {
	if p.Event.Type() != packet.ACL {
		return f.cb.TransmitFragment(p, true)
	}

	body := p.Data()
	if len(body) < 4 {
		return f.cb.TransmitFragment(p, true)
	}

	handle, _, dlen := parseACLHeader(body)
	payload := body[4:]
	if len(payload) != dlen || len(payload) <= f.mtu {
		return f.cb.TransmitFragment(p, true)
	}

	boundary := pbFirstFlushable
	offset := 0
	for offset < len(payload) {
		chunk := payload[offset:]
		if len(chunk) > f.mtu {
			chunk = chunk[:f.mtu]
		}
		frag := f.cb.AllocFragment(4 + len(chunk))
		writeACLHeader(frag.Buf, handle, boundary, len(chunk))
		copy(frag.Buf[4:], chunk)
		frag.Len = 4 + len(chunk)
		frag.Event = p.Event

		offset += len(chunk)
		last := offset >= len(payload)
		if err := f.cb.TransmitFragment(frag, last); err != nil {
			return err
		}
		boundary = pbContinuing
	}
	p.Release()
	return nil
}

// ReassembleAndDispatch accumulates ACL fragments by connection
// handle until the L2CAP length prefix carried in the first fragment
// is satisfied, then dispatches the reassembled packet upward.
// Non-ACL packets are dispatched immediately.
func (f *L2CAP) ReassembleAndDispatch(p *packet.Packet) {
	if p.Event.Type() != packet.ACL {
		f.cb.DispatchReassembled(p)
		return
	}

	body := p.Data()
	if len(body) < 4 {
		f.cb.DispatchReassembled(p)
		return
	}
	handle, boundary, dlen := parseACLHeader(body)
	payload := body[4 : 4+dlen]

	f.mu.Lock()
	r, continuing := f.pending[handle]
	if boundary != pbContinuing || !continuing {
		if len(payload) < 2 {
			f.mu.Unlock()
			p.Release()
			return
		}
		l2capLen := int(binary.LittleEndian.Uint16(payload[0:2])) + 4 // + L2CAP header
		r = &reassembly{handle: handle, l2capLen: l2capLen}
		f.pending[handle] = r
	}
	r.buf = append(r.buf, payload...)
	done := len(r.buf) >= r.l2capLen
	if done {
		delete(f.pending, handle)
	}
	f.mu.Unlock()
	p.Release()

	if !done {
		return
	}

	whole := f.cb.AllocFragment(4 + len(r.buf))
	writeACLHeader(whole.Buf, handle, pbFirstFlushable, len(r.buf))
	copy(whole.Buf[4:], r.buf)
	whole.Len = 4 + len(r.buf)
	whole.Event = packet.ControllerToStackACL
	f.cb.DispatchReassembled(whole)
}

func parseACLHeader(b []byte) (handle uint16, boundary byte, dlen int) {
	handle = uint16(b[0]) | uint16(b[1]&0x0f)<<8
	boundary = (b[1] >> 4) & 0x03
	dlen = int(binary.LittleEndian.Uint16(b[2:4]))
	return
}

func writeACLHeader(b []byte, handle uint16, boundary int, dlen int) {
	b[0] = byte(handle)
	b[1] = byte(handle>>8&0x0f) | byte(boundary<<4)
	binary.LittleEndian.PutUint16(b[2:4], uint16(dlen))
}

var _ Fragmenter = (*L2CAP)(nil)
