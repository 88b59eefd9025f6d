package packet

import (
	"github.com/hcigo/hci/internal/constants"
	"github.com/hcigo/hci/internal/logging"
)

type state int

const (
	stateBrandNew state = iota
	statePreamble
	stateBody
	stateIgnore
)

// context is the per-type reassembly state. Not safe for concurrent
// use — the reassembler only runs on the event-loop thread, but a
// context is reentrancy-tolerant across successive OnDataReady calls
// for its type.
type context struct {
	ptype Type
	st    state

	bytesRemaining int
	preamble       [constants.MaxPreambleSize]byte
	index          int
	pkt            *Packet
}

func newContext(t Type) *context {
	return &context{ptype: t, st: stateBrandNew}
}

func (c *context) reset() {
	c.st = stateBrandNew
	c.bytesRemaining = 0
	c.index = 0
	c.pkt = nil
}

// AllocFunc allocates a packet-sized buffer, returning nil on failure
// so the caller can fall back to draining the body unread.
type AllocFunc func(size int) []byte

// ReleaseFunc returns a packet's buffer once the caller is done with it.
type ReleaseFunc func(*Packet)

// ReadFunc matches the HAL's read_data(type, dst, n, block=false)
// contract: a non-blocking read into dst, returning bytes actually
// read (possibly fewer than len(dst), possibly zero).
type ReadFunc func(dst []byte) int

// AllocFailFunc is notified whenever the allocator returns nil and the
// reassembler falls back to draining (or dropping) the body, so a
// caller can surface it as a metric.
type AllocFailFunc func(t Type, bodyLen int)

// feed advances the state machine by one byte, returning a completed
// packet once FINISHED is reached. The BRAND_NEW→PREAMBLE fallthrough
// is intentional: the byte that triggers the transition out of
// BRAND_NEW is itself the first preamble byte, so it must be consumed
// by the PREAMBLE case in the same call rather than discarded.
func (c *context) feed(b byte, alloc AllocFunc, release ReleaseFunc, read ReadFunc, logger *logging.Logger, onAllocFail AllocFailFunc) *Packet {
	for {
		switch c.st {
		case stateBrandNew:
			c.bytesRemaining = PreambleSize(c.ptype)
			c.index = 0
			c.st = statePreamble
			continue

		case statePreamble:
			c.preamble[c.index] = b
			c.index++
			c.bytesRemaining--
			if c.bytesRemaining > 0 {
				return nil
			}

			preamble := c.preamble[:PreambleSize(c.ptype)]
			bodyLen := BodyLength(c.ptype, preamble)
			buf := alloc(PreambleSize(c.ptype) + bodyLen)
			if buf == nil {
				if logger != nil {
					logger.WithPacketType(c.ptype.String()).Warn(
						"packet buffer allocation failed, draining body", "body_len", bodyLen)
				}
				if onAllocFail != nil {
					onAllocFail(c.ptype, bodyLen)
				}
				if bodyLen == 0 {
					// Preamble-only packets are dropped on allocation
					// pressure rather than emitted with an empty body.
					c.st = stateBrandNew
					return nil
				}
				c.st = stateIgnore
				c.bytesRemaining = bodyLen
				return nil
			}

			copy(buf, preamble)
			c.pkt = &Packet{Buf: buf, Offset: 0, Len: len(buf), Event: InboundTag(c.ptype), release: release}
			c.index = 0
			if bodyLen > 0 {
				c.st = stateBody
				c.bytesRemaining = bodyLen
				return nil
			}
			return c.finish()

		case stateBody:
			bodyStart := PreambleSize(c.ptype)
			c.pkt.Buf[bodyStart+c.index] = b
			c.index++
			c.bytesRemaining--
			if c.bytesRemaining > 0 && read != nil {
				dst := c.pkt.Buf[bodyStart+c.index : bodyStart+c.index+c.bytesRemaining]
				n := read(dst)
				c.index += n
				c.bytesRemaining -= n
			}
			if c.bytesRemaining == 0 {
				return c.finish()
			}
			return nil

		case stateIgnore:
			c.bytesRemaining--
			if c.bytesRemaining == 0 {
				c.st = stateBrandNew
			}
			return nil

		default:
			if logger != nil {
				logger.Error("reassembler observed FINISHED state re-entrantly", "type", c.ptype.String())
			}
			c.reset()
			return nil
		}
	}
}

func (c *context) finish() *Packet {
	pkt := c.pkt
	c.reset()
	return pkt
}

// Reassembler owns one context per inbound packet type (EVENT, ACL,
// SCO) and drives the byte-stream state machine for each.
type Reassembler struct {
	contexts    map[Type]*context
	alloc       AllocFunc
	release     ReleaseFunc
	logger      *logging.Logger
	onAllocFail AllocFailFunc
}

// NewReassembler builds a reassembler with fresh BRAND_NEW contexts for
// ACL, SCO and EVENT. alloc must return nil on allocation failure so
// the IGNORE path can be exercised; release may be nil. onAllocFail is
// optional and may be nil.
func NewReassembler(alloc AllocFunc, release ReleaseFunc, logger *logging.Logger, onAllocFail AllocFailFunc) *Reassembler {
	r := &Reassembler{
		contexts:    make(map[Type]*context, 3),
		alloc:       alloc,
		release:     release,
		logger:      logger,
		onAllocFail: onAllocFail,
	}
	for _, t := range []Type{ACL, SCO, Event} {
		r.contexts[t] = newContext(t)
	}
	return r
}

// OnDataReady is the HAL-invoked entry point: it reads bytes of the
// given type one at a time until either a whole packet is assembled
// (returned) or the HAL signals no more bytes (read returns 0, and nil
// is returned). It is reentrancy-tolerant: progress persists in the
// type's context across calls.
func (r *Reassembler) OnDataReady(t Type, read ReadFunc) *Packet {
	ctx, ok := r.contexts[t]
	if !ok {
		if r.logger != nil {
			r.logger.Error("on_data_ready for a non-reassembled packet type", "type", t.String())
		}
		return nil
	}

	var one [1]byte
	for {
		if n := read(one[:]); n == 0 {
			return nil
		}
		if pkt := ctx.feed(one[0], r.alloc, r.release, read, r.logger, r.onAllocFail); pkt != nil {
			return pkt
		}
	}
}
