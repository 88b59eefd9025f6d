// Package hci implements the host-side HCI transport layer for a
// Bluetooth stack: the component between an upper Bluetooth stack and
// a hardware abstraction layer (HAL) talking to a controller over a
// serial-like channel. It reassembles inbound packets, fragments
// outbound ones, enforces the controller's command flow-control
// credits, correlates commands with their responses under a watchdog,
// and drives the firmware bring-up/teardown lifecycle.
package hci

import (
	"sync"

	"github.com/hcigo/hci/internal/fragmenter"
	"github.com/hcigo/hci/internal/hal"
	"github.com/hcigo/hci/internal/inject"
	"github.com/hcigo/hci/internal/lifecycle"
	"github.com/hcigo/hci/internal/logging"
	"github.com/hcigo/hci/internal/lowpower"
	"github.com/hcigo/hci/internal/packet"
	"github.com/hcigo/hci/internal/pendingcmd"
	"github.com/hcigo/hci/internal/vendor"
)

// Re-exported packet-level types so callers never need to import an
// internal package directly.
type (
	PacketType = packet.Type
	EventTag   = packet.EventTag
)

const (
	TypeCommand = packet.Command
	TypeACL     = packet.ACL
	TypeSCO     = packet.SCO
	TypeEvent   = packet.Event
)

var (
	TagStackToControllerACL   = packet.StackToControllerACL
	TagStackToControllerSCO   = packet.StackToControllerSCO
	TagControllerToStackACL   = packet.ControllerToStackACL
	TagControllerToStackSCO   = packet.ControllerToStackSCO
	TagControllerToStackEvent = packet.ControllerToStackEvent
)

// Options configures a Stack. HAL and Vendor are required; everything
// else follows the Bluetooth-mandated defaults from DefaultOptions
// when left zero.
type Options struct {
	HAL    hal.HAL
	Vendor vendor.Driver
	Iface  string

	LowPower lowpower.Manager // nil => no low-power negotiation
	Observer Observer         // nil => the Stack's own Metrics collector
	Logger   *logging.Logger  // nil => no logging

	MTU int // outbound ACL fragmentation MTU

	// InjectSocketPath, when non-empty, opens the HCI injection debug
	// side-channel at that path. Opening it is allowed to fail
	// silently; see internal/inject.
	InjectSocketPath string
}

// DefaultOptions returns the Bluetooth Core-mandated defaults: a
// conservative ACL MTU and no low-power/observer/logging/inject
// wiring. Callers still need to set HAL and Vendor.
func DefaultOptions() Options {
	return Options{MTU: 672}
}

// Callbacks notifies the upper stack of lifecycle milestones and
// transmit completion. All fields are optional.
type Callbacks struct {
	PreloadFinished  func(ok bool)
	PostloadFinished func(ok bool)
	TransmitFinished func(tag EventTag, allSent bool)
}

// CommandCompleteFunc receives the raw command-complete event bytes
// (event code, parameter length, credits, opcode, then return
// parameters) plus the caller's ctx.
type CommandCompleteFunc func(data []byte, ctx any)

// CommandStatusFunc receives a command-status event's status byte
// plus the caller's ctx.
type CommandStatusFunc func(status byte, ctx any)

// Stack is the public facade over the HCI transport layer: one per
// local controller. Build it with NewStack, then StartUp, DoPreload,
// DoPostload in sequence before transmitting anything.
type Stack struct {
	opts       Options
	ctrl       *lifecycle.Controller
	dispatcher *UpwardDispatcher
	metrics    *Metrics

	mu  sync.Mutex
	cbs Callbacks
}

// NewStack builds a Stack from opts. It does not touch the HAL or
// vendor driver; call StartUp to bring the transport up.
func NewStack(opts Options) *Stack {
	if opts.MTU == 0 {
		opts.MTU = 672
	}
	lp := opts.LowPower
	if lp == nil {
		lp = lowpower.NoOp{}
	}

	metrics := NewMetrics()
	var obs Observer = opts.Observer
	if obs == nil {
		obs = NewMetricsObserver(metrics)
	}

	s := &Stack{
		opts:       opts,
		dispatcher: NewUpwardDispatcher(),
		metrics:    metrics,
	}

	var injectChan *inject.Channel
	if opts.InjectSocketPath != "" {
		// s.ctrl is assigned below, before NewStack returns and long
		// before any connection can reach this handler.
		injectChan = inject.New(opts.InjectSocketPath, opts.Logger, func(t packet.Type, data []byte) {
			s.ctrl.InjectInbound(t, data)
		})
	}

	s.ctrl = lifecycle.New(lifecycle.Config{
		HAL:        opts.HAL,
		Vendor:     opts.Vendor,
		Fragmenter: fragmenter.New(opts.MTU),
		LowPower:   lp,
		Observer:   obs,
		Inject:     injectChan,
		Logger:     opts.Logger,
		Iface:      opts.Iface,
	})
	return s
}

// Metrics returns the Stack's metrics collector. It is always
// non-nil, whether or not a custom Observer was supplied in Options.
func (s *Stack) Metrics() *Metrics { return s.metrics }

// Dispatcher returns the upward event dispatcher the upper stack
// subscribes to for ACL/SCO/EVT delivery.
func (s *Stack) Dispatcher() *UpwardDispatcher { return s.dispatcher }

// State reports the lifecycle controller's current state.
func (s *Stack) State() lifecycle.State { return s.ctrl.State() }

// StartUp brings the controller up to STARTING: builds the
// event-loop thread, pending-response list and event filter, opens
// the vendor driver, initializes the HAL, installs vendor callbacks,
// and opens the inject side-channel. A failure rolls back via
// ShutDown and returns false.
func (s *Stack) StartUp(localAddr [6]byte, cb Callbacks) bool {
	s.mu.Lock()
	s.cbs = cb
	s.mu.Unlock()

	return s.ctrl.StartUp(localAddr, lifecycle.Callbacks{
		PreloadFinished:  cb.PreloadFinished,
		PostloadFinished: cb.PostloadFinished,
		Upward:           s.dispatcher.dispatch,
		TransmitFinished: func(p *packet.Packet, allSent bool) {
			if cb.TransmitFinished != nil {
				cb.TransmitFinished(p.Event, allSent)
			}
			p.Release()
		},
	})
}

// ShutDown idempotently tears the transport down: epilog handshake
// (if firmware was configured), event-loop stop, and collaborator
// cleanup in reverse bring-up order.
func (s *Stack) ShutDown() { s.ctrl.ShutDown() }

// DoPreload posts the preload task: open the HAL and configure
// firmware. Callbacks.PreloadFinished reports the outcome.
func (s *Stack) DoPreload() { s.ctrl.DoPreload() }

// DoPostload posts the postload task: configure SCO and fetch ACL
// buffer sizing. Callbacks.PostloadFinished reports the outcome.
func (s *Stack) DoPostload() { s.ctrl.DoPostload() }

// SetChipPowerOn routes directly to the vendor driver's chip power
// control command.
func (s *Stack) SetChipPowerOn(on bool) error { return s.ctrl.SetChipPowerOn(on) }

// TurnOnLogging opens a btsnoop capture file and starts recording
// every inbound/outbound packet through it.
func (s *Stack) TurnOnLogging(path string) error { return s.ctrl.TurnOnLogging(path) }

// TurnOffLogging stops and closes the capture file, if any.
func (s *Stack) TurnOffLogging() { s.ctrl.TurnOffLogging() }

// TransmitCommand admits cmd for dispatch under credit control.
// onComplete and onStatus are each invoked at most once; exactly one
// of them fires per command, never both.
func (s *Stack) TransmitCommand(cmd []byte, onComplete CommandCompleteFunc, onStatus CommandStatusFunc, ctx any) {
	var comp pendingcmd.CompleteCallback
	if onComplete != nil {
		comp = func(pkt *packet.Packet, ctx any) {
			data := append([]byte(nil), pkt.Data()...)
			pkt.Release()
			onComplete(data, ctx)
		}
	}
	var stat pendingcmd.StatusCallback
	if onStatus != nil {
		stat = func(status byte, originalCmd *packet.Packet, ctx any) {
			originalCmd.Release()
			onStatus(status, ctx)
		}
	}
	s.ctrl.TransmitCommand(cmd, comp, stat, ctx)
}

// TransmitDownward routes a tagged ACL/SCO buffer to the outbound
// packet queue.
func (s *Stack) TransmitDownward(tag EventTag, data []byte) {
	s.ctrl.TransmitDownward(tag, data)
}

// SendLowPowerCommand forwards a vendor-specific low-power command to
// the low-power manager.
func (s *Stack) SendLowPowerCommand(cmd []byte) error {
	return s.ctrl.SendLowPowerCommand(cmd)
}
