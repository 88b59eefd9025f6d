// Package pendingcmd tracks commands awaiting a controller reply and
// arms the command-pending watchdog over that list.
package pendingcmd

import (
	"os"
	"sync"
	"time"

	"github.com/hcigo/hci/internal/constants"
	"github.com/hcigo/hci/internal/logging"
	"github.com/hcigo/hci/internal/packet"
)

// CompleteCallback is invoked when a command-complete event matches a
// pending command's opcode; it owns pkt once called.
type CompleteCallback func(pkt *packet.Packet, ctx any)

// StatusCallback is invoked when a command-status event matches; it
// owns originalCmd once called.
type StatusCallback func(status byte, originalCmd *packet.Packet, ctx any)

// PendingCommand is the tuple tracked per in-flight command.
type PendingCommand struct {
	Opcode     uint16
	OnComplete CompleteCallback
	OnStatus   StatusCallback
	Ctx        any
	Cmd        *packet.Packet // owned outbound command packet
}

// FatalHandler is invoked, with the timed-out command's opcode, when
// the watchdog expires. The default terminates the process; tests
// substitute a recording stub so the policy stays exercised without
// actually exiting.
type FatalHandler func(opcode uint16)

// DefaultFatalHandler logs the opcode, sleeps PostKillDelay so the log
// can drain, then terminates the process. A command timeout at this
// layer means either a wedged controller or a driver bug; there is no
// recovery that leaves the stack in a known state.
func DefaultFatalHandler(logger *logging.Logger) FatalHandler {
	return func(opcode uint16) {
		if logger != nil {
			logger.WithOpcode(opcode).Error("command watchdog expired, terminating process")
		}
		time.Sleep(constants.PostKillDelay)
		os.Exit(1)
	}
}

// List is the mutex-guarded pending-response list plus its watchdog.
// Every operation holds the mutex for its critical section only.
type List struct {
	mu      sync.Mutex
	entries []*PendingCommand

	timerMu sync.Mutex
	timer   *time.Timer
	timeout time.Duration

	fatal  FatalHandler
	logger *logging.Logger
}

// NewList builds a pending-response list with the given watchdog
// timeout and fatal handler. Pass constants.CommandPendingTimeout and
// DefaultFatalHandler(logger) for production use.
func NewList(timeout time.Duration, fatal FatalHandler, logger *logging.Logger) *List {
	return &List{timeout: timeout, fatal: fatal, logger: logger}
}

// EnqueuePending appends cmd to the tail of the pending-response list.
func (l *List) EnqueuePending(cmd *PendingCommand) {
	l.mu.Lock()
	l.entries = append(l.entries, cmd)
	l.mu.Unlock()
}

// TakePendingByOpcode scans oldest-first and removes the first entry
// with a matching opcode, preserving FIFO order for any duplicates
// that remain.
func (l *List) TakePendingByOpcode(opcode uint16) (*PendingCommand, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.Opcode == opcode {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return e, true
		}
	}
	return nil, false
}

// Stop cancels the watchdog unconditionally, for lifecycle teardown
// where any remaining entries are about to be discarded anyway.
func (l *List) Stop() {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
}

// Len reports the number of commands currently awaiting a response.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RestartWatchdog cancels the watchdog if the list is empty, otherwise
// (re)arms it for the command-pending timeout.
func (l *List) RestartWatchdog() {
	l.mu.Lock()
	empty := len(l.entries) == 0
	l.mu.Unlock()

	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if empty {
		if l.timer != nil {
			l.timer.Stop()
		}
		return
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(l.timeout, l.onWatchdogFire)
	} else {
		l.timer.Reset(l.timeout)
	}
}

// onWatchdogFire reads the oldest pending entry's opcode strictly
// under the lock and never dereferences the entry itself afterward,
// closing the unlock-then-deref race a naive version of this would carry.
func (l *List) onWatchdogFire() {
	l.mu.Lock()
	var opcode uint16
	found := len(l.entries) > 0
	if found {
		opcode = l.entries[0].Opcode
	}
	l.mu.Unlock()

	if !found {
		// Raced with a completion that drained the list between the
		// timer firing and this callback running; nothing to kill for.
		return
	}
	l.fatal(opcode)
}
