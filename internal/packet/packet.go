// Package packet defines the HCI Packet data model, the four packet
// types and their preamble/body-length rules, and the reassembler
// state machine that turns an inbound byte stream into whole packets.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/hcigo/hci/internal/constants"
)

// Type is one of the four HCI packet types.
type Type uint8

const (
	Command Type = iota + 1
	ACL
	SCO
	Event
)

func (t Type) String() string {
	switch t {
	case Command:
		return "COMMAND"
	case ACL:
		return "ACL"
	case SCO:
		return "SCO"
	case Event:
		return "EVENT"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// EventTag is the 16-bit direction+type tag carried on every Packet.
// The low byte is the Type; EventTypeMask extracts it for upward
// dispatch, which keys its handler table off packet.Event & EventTypeMask.
type EventTag uint16

const (
	EventTypeMask EventTag = 0x00FF

	dirStackToController EventTag = 0x0000
	dirControllerToStack EventTag = 0x0100
)

func tag(dir EventTag, t Type) EventTag { return dir | EventTag(t) }

// Direction-qualified tags for every (direction, type) pair this layer
// produces or consumes.
var (
	StackToControllerCommand = tag(dirStackToController, Command)
	StackToControllerACL     = tag(dirStackToController, ACL)
	StackToControllerSCO     = tag(dirStackToController, SCO)

	ControllerToStackACL   = tag(dirControllerToStack, ACL)
	ControllerToStackSCO   = tag(dirControllerToStack, SCO)
	ControllerToStackEvent = tag(dirControllerToStack, Event)
)

// Type extracts the packet type from a tag, masking off direction.
func (e EventTag) Type() Type { return Type(e & EventTypeMask) }

// Packet is an opaque byte buffer with a type-tagged view window.
// Ownership is single-owner at any moment: whoever currently holds a
// *Packet is responsible for releasing it via Release once consumed,
// unless a callback contract documents that it takes ownership instead.
type Packet struct {
	Buf   []byte
	Offset int
	Len    int
	Event  EventTag

	// Scratch is opaque layer-specific state a collaborator may attach
	// to a packet while it is in flight. Nothing in this module sets it;
	// the fragmenter keeps its partial-reassembly bookkeeping in its own
	// per-handle map.
	Scratch any

	release func(*Packet)
}

// New builds a Packet from a fully-formed buffer, for collaborators
// (and tests) that construct packets directly rather than through the
// Reassembler — e.g. an outbound command packet, or a synthetic event
// injected in a test.
func New(buf []byte, event EventTag, release ReleaseFunc) *Packet {
	return &Packet{Buf: buf, Offset: 0, Len: len(buf), Event: event, release: release}
}

// Data returns the packet's valid bytes.
func (p *Packet) Data() []byte {
	if p == nil {
		return nil
	}
	return p.Buf[p.Offset : p.Offset+p.Len]
}

// Release returns the packet's backing buffer to whatever allocator
// produced it. Safe to call on a nil release func (no-op) so tests that
// build packets by hand don't need a real allocator.
func (p *Packet) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release(p)
	p.release = nil
}

// PreambleSize returns the fixed preamble length for a type.
func PreambleSize(t Type) int {
	switch t {
	case Command:
		return constants.CommandPreambleSize
	case ACL:
		return constants.ACLPreambleSize
	case SCO:
		return constants.SCOPreambleSize
	case Event:
		return constants.EventPreambleSize
	default:
		return 0
	}
}

// BodyLength derives the body length from a fully-read preamble.
// preamble must be at least PreambleSize(t) bytes.
func BodyLength(t Type, preamble []byte) int {
	switch t {
	case Command, SCO, Event:
		return int(preamble[len(preamble)-1])
	case ACL:
		return int(binary.LittleEndian.Uint16(preamble[2:4]))
	default:
		return 0
	}
}

// InboundTag returns the controller-to-stack direction tag for a
// reassembled inbound type. Command packets are never reassembled
// inbound; only EVENT/ACL/SCO have reassembly contexts.
func InboundTag(t Type) EventTag {
	switch t {
	case ACL:
		return ControllerToStackACL
	case SCO:
		return ControllerToStackSCO
	case Event:
		return ControllerToStackEvent
	default:
		return 0
	}
}
