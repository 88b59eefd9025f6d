package constants

import "time"

// Packet preamble sizes, in bytes.
const (
	CommandPreambleSize = 3
	ACLPreambleSize      = 4
	SCOPreambleSize      = 3
	EventPreambleSize    = 2

	// MaxPreambleSize sizes the reassembly scratch buffer shared by all
	// inbound types.
	MaxPreambleSize = ACLPreambleSize
)

// HCI event codes this layer parses; payload semantics beyond these
// two are out of scope.
const (
	EventCodeCommandComplete = 0x0E
	EventCodeCommandStatus   = 0x0F
)

// InitialCommandCredits is the command flow-control token count a fresh
// session starts with, per Bluetooth Core Volume 2 Part E §4.4.
const InitialCommandCredits = 1

// OpcodeReadBufferSize is the Informational Parameters group's
// Read_Buffer_Size command (OGF 0x04, OCF 0x05), issued during
// postload to fetch the controller's ACL buffer sizing.
const OpcodeReadBufferSize = 0x1005

// Timing constants for the command watchdog and lifecycle teardown.
//
// The watchdog and epilog wait are both Bluetooth-stack policy, not
// kernel-imposed delays: a command with no response within
// CommandPendingTimeout indicates a wedged controller, and an epilog
// handshake that outruns EpilogWaitTimeout gets a forced thread stop
// rather than an indefinite hang.
const (
	// CommandPendingTimeout is the command-response watchdog. Its
	// expiry is fatal by design; there is no retry path.
	CommandPendingTimeout = 8000 * time.Millisecond

	// EpilogWaitTimeout bounds how long shut_down waits for the vendor
	// epilog-done callback before forcing the event-loop thread to stop.
	EpilogWaitTimeout = 3000 * time.Millisecond

	// PostKillDelay is slept after a fatal watchdog termination decision
	// to let the log drain before the process exits.
	PostKillDelay = 10 * time.Millisecond
)
