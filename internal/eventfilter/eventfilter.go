// Package eventfilter inspects inbound EVENT packets for
// command-complete / command-status, updates command credits, and
// correlates the event with a pending command via the pendingcmd list.
package eventfilter

import (
	"encoding/binary"

	"github.com/hcigo/hci/internal/constants"
	"github.com/hcigo/hci/internal/logging"
	"github.com/hcigo/hci/internal/packet"
	"github.com/hcigo/hci/internal/pendingcmd"
)

// Result reports what HandleEvent did, for the scheduler to apply.
type Result struct {
	// Consumed is true when the event was command-complete or
	// command-status: the reassembler must not forward it upward.
	Consumed bool
	// CreditsUpdated and NewCredits describe a credit replacement: each
	// event rewrites the counter. The scheduler applies NewCredits
	// verbatim, never adds it.
	CreditsUpdated bool
	NewCredits     int
	// Matched reports whether a pending command with Opcode was found
	// and removed. The scheduler uses it only for latency observation;
	// ownership of that command's packet was already settled by
	// HandleEvent's buffer disposition rules before it returns.
	Matched bool
	Opcode  uint16
	// ViaStatus is true when Matched was resolved by a command-status
	// event rather than command-complete, so latency metrics can
	// distinguish the two completion paths.
	ViaStatus bool
}

// Filter holds the collaborators the event filter needs: the pending
// command list to correlate against, and a logger for the
// unknown-opcode warning path.
type Filter struct {
	pending *pendingcmd.List
	logger  *logging.Logger
}

func New(pending *pendingcmd.List, logger *logging.Logger) *Filter {
	return &Filter{pending: pending, logger: logger}
}

// HandleEvent applies the buffer disposition rules for command-complete
// and command-status events. It returns Consumed=false (and leaves pkt
// owned by the caller) for any other event code.
func (f *Filter) HandleEvent(pkt *packet.Packet) Result {
	data := pkt.Data()
	if len(data) < 2 {
		return Result{}
	}
	code := data[0]
	// data[1] is the parameter total length; unused beyond validating
	// the slices below are in range.

	switch code {
	case constants.EventCodeCommandComplete:
		return f.handleCommandComplete(pkt, data)
	case constants.EventCodeCommandStatus:
		return f.handleCommandStatus(pkt, data)
	default:
		return Result{Consumed: false}
	}
}

func (f *Filter) handleCommandComplete(pkt *packet.Packet, data []byte) Result {
	if len(data) < 5 {
		pkt.Release()
		return Result{Consumed: true}
	}
	credits := int(data[2])
	opcode := binary.LittleEndian.Uint16(data[3:5])

	entry, found := f.pending.TakePendingByOpcode(opcode)
	if !found {
		if f.logger != nil {
			f.logger.WithOpcode(opcode).Warn("command-complete for unknown opcode")
		}
		pkt.Release()
	} else {
		entry.Cmd.Release() // never handed to a callback on this path
		if entry.OnComplete != nil {
			entry.OnComplete(pkt, entry.Ctx) // callback now owns pkt
		} else {
			pkt.Release()
		}
	}

	f.pending.RestartWatchdog()
	return Result{Consumed: true, CreditsUpdated: true, NewCredits: credits, Matched: found, Opcode: opcode}
}

func (f *Filter) handleCommandStatus(pkt *packet.Packet, data []byte) Result {
	if len(data) < 6 {
		pkt.Release()
		return Result{Consumed: true}
	}
	status := data[2]
	credits := int(data[3])
	opcode := binary.LittleEndian.Uint16(data[4:6])

	entry, found := f.pending.TakePendingByOpcode(opcode)
	if !found {
		if f.logger != nil {
			f.logger.WithOpcode(opcode).Warn("command-status for unknown opcode")
		}
	} else if entry.OnStatus != nil {
		entry.OnStatus(status, entry.Cmd, entry.Ctx) // callback now owns entry.Cmd
	} else {
		entry.Cmd.Release()
	}
	pkt.Release() // the status event itself is never handed to a callback

	f.pending.RestartWatchdog()
	return Result{Consumed: true, CreditsUpdated: true, NewCredits: credits, Matched: found, Opcode: opcode, ViaStatus: true}
}
