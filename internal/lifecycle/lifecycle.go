// Package lifecycle drives the firmware bring-up / teardown state
// machine that owns the event-loop thread and every collaborator
// wired to it: the HAL, the vendor driver, the fragmenter, the
// low-power manager, the pending-command list, the event filter and
// the outbound scheduler.
package lifecycle

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/hcigo/hci/internal/btsnoop"
	"github.com/hcigo/hci/internal/constants"
	"github.com/hcigo/hci/internal/eventfilter"
	"github.com/hcigo/hci/internal/fragmenter"
	"github.com/hcigo/hci/internal/hal"
	"github.com/hcigo/hci/internal/inject"
	"github.com/hcigo/hci/internal/logging"
	"github.com/hcigo/hci/internal/lowpower"
	"github.com/hcigo/hci/internal/packet"
	"github.com/hcigo/hci/internal/pendingcmd"
	"github.com/hcigo/hci/internal/scheduler"
	"github.com/hcigo/hci/internal/vendor"
)

// State is a point in the DOWN → STARTING → PRELOADING → CONFIGURED →
// POSTLOADING → RUNNING → EPILOGING → DOWN state machine.
type State int

const (
	Down State = iota
	Starting
	Preloading
	Configured
	Postloading
	Running
	Epiloging
)

func (s State) String() string {
	switch s {
	case Down:
		return "DOWN"
	case Starting:
		return "STARTING"
	case Preloading:
		return "PRELOADING"
	case Configured:
		return "CONFIGURED"
	case Postloading:
		return "POSTLOADING"
	case Running:
		return "RUNNING"
	case Epiloging:
		return "EPILOGING"
	default:
		return "UNKNOWN"
	}
}

// Callbacks notifies the upper stack of lifecycle milestones and
// carries the inbound/transmit-finished hooks the scheduler needs.
type Callbacks struct {
	PreloadFinished  func(ok bool)
	PostloadFinished func(ok bool)
	Upward           scheduler.UpwardFunc
	TransmitFinished scheduler.TransmitFinishedFunc
}

// Config wires every collaborator the controller drives. Observer and
// Inject are optional; a nil Inject disables the debug side-channel
// entirely.
type Config struct {
	HAL        hal.HAL
	Vendor     vendor.Driver
	Fragmenter fragmenter.Fragmenter
	LowPower   lowpower.Manager
	Observer   scheduler.Observer
	Inject     *inject.Channel
	Logger     *logging.Logger
	Iface      string

	// CommandTimeout, EpilogTimeout and InitialCredits default to the
	// Bluetooth-mandated constants when zero.
	CommandTimeout time.Duration
	EpilogTimeout  time.Duration
	InitialCredits int
}

// Controller owns the lifecycle state and every per-session
// collaborator StartUp constructs.
type Controller struct {
	cfg Config

	mu                 sync.Mutex
	state              State
	hasShutDown        bool
	schedStarted       bool
	firmwareConfigured bool
	localAddr          [6]byte
	callbacks          Callbacks

	pending *pendingcmd.List
	filter  *eventfilter.Filter
	sched   *scheduler.Scheduler

	btsnoopMu sync.Mutex
	btsnoop   *btsnoop.Logger

	epilogMu    sync.Mutex
	epilogTimer *time.Timer
	epilogDone  chan struct{}
	epilogOnce  *sync.Once
}

func New(cfg Config) *Controller {
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = constants.CommandPendingTimeout
	}
	if cfg.EpilogTimeout == 0 {
		cfg.EpilogTimeout = constants.EpilogWaitTimeout
	}
	if cfg.InitialCredits == 0 {
		cfg.InitialCredits = constants.InitialCommandCredits
	}
	return &Controller{cfg: cfg, state: Down}
}

// State reports the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartUp brings the controller up to STARTING: it builds the
// pending-response list, event filter and scheduler, opens the vendor
// driver, initializes the HAL on the event-loop thread, installs the
// three vendor async callbacks, and opens the inject side-channel. Any
// failure rolls back by calling ShutDown and returns false.
func (c *Controller) StartUp(localAddr [6]byte, callbacks Callbacks) bool {
	c.mu.Lock()
	if c.state != Down {
		c.mu.Unlock()
		if c.cfg.Logger != nil {
			c.cfg.Logger.Warn("start_up called while not DOWN", "state", c.state.String())
		}
		return false
	}
	c.localAddr = localAddr
	c.callbacks = callbacks
	c.hasShutDown = false
	c.state = Starting
	c.mu.Unlock()

	fatal := pendingcmd.DefaultFatalHandler(c.cfg.Logger)
	if c.cfg.Observer != nil {
		inner := fatal
		fatal = func(opcode uint16) {
			c.cfg.Observer.ObserveCommandTimeout()
			inner(opcode)
		}
	}
	c.pending = pendingcmd.NewList(c.cfg.CommandTimeout, fatal, c.cfg.Logger)
	c.filter = eventfilter.New(c.pending, c.cfg.Logger)
	c.sched = scheduler.New(scheduler.Config{
		HAL:              c.cfg.HAL,
		Fragmenter:       c.cfg.Fragmenter,
		LowPower:         c.cfg.LowPower,
		Pending:          c.pending,
		EventFilter:      c.filter,
		Observer:         c.cfg.Observer,
		Upward:           callbacks.Upward,
		TransmitFinished: callbacks.TransmitFinished,
		Logger:           c.cfg.Logger,
		InitialCredits:   c.cfg.InitialCredits,
	})

	if err := c.cfg.Vendor.Open(localAddr, c.cfg.Iface); err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.WithError(err).Error("vendor driver open failed")
		}
		c.ShutDown()
		return false
	}

	c.cfg.Vendor.SetCallback(vendor.CallbackFirmwareConfigured, c.onFirmwareConfigured)
	c.cfg.Vendor.SetCallback(vendor.CallbackSCOConfigured, c.onSCOConfigured)
	c.cfg.Vendor.SetCallback(vendor.CallbackEpilogDone, c.onEpilogDone)

	if err := c.sched.Start(); err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.WithError(err).Error("event loop start failed")
		}
		c.ShutDown()
		return false
	}
	c.mu.Lock()
	c.schedStarted = true
	c.mu.Unlock()

	if c.cfg.Inject != nil {
		// Non-fatal per the debug-facility policy: Open already logs
		// its own failure.
		_ = c.cfg.Inject.Open()
	}

	return true
}

// DoPreload posts the preload task: open the HAL and issue the
// firmware-configure command.
func (c *Controller) DoPreload() {
	c.mu.Lock()
	c.state = Preloading
	c.mu.Unlock()

	c.sched.Post(func() {
		if err := c.cfg.HAL.Open(); err != nil {
			if c.cfg.Logger != nil {
				c.cfg.Logger.WithError(err).Error("hal open failed during preload")
			}
			c.onFirmwareConfigured(0, err)
			return
		}
		if rc := c.cfg.Vendor.SendAsyncCommand(vendor.ConfigureFirmware, 0); rc < 0 {
			c.onFirmwareConfigured(0, fmt.Errorf("lifecycle: firmware-configure submission failed: rc=%d", rc))
		}
	})
}

func (c *Controller) onFirmwareConfigured(arg int, err error) {
	if err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.WithError(err).Warn("firmware configure failed")
		}
		if c.callbacks.PreloadFinished != nil {
			c.callbacks.PreloadFinished(false)
		}
		return
	}
	c.mu.Lock()
	c.firmwareConfigured = true
	c.state = Configured
	c.mu.Unlock()
	if c.callbacks.PreloadFinished != nil {
		c.callbacks.PreloadFinished(true)
	}
}

// DoPostload posts the postload task: issue the SCO-configure
// command. If submission itself fails, a failure callback is
// synthesized locally so the chain does not stall.
func (c *Controller) DoPostload() {
	c.mu.Lock()
	c.state = Postloading
	c.mu.Unlock()

	c.sched.Post(func() {
		if rc := c.cfg.Vendor.SendAsyncCommand(vendor.ConfigureSCO, 0); rc < 0 {
			c.onSCOConfigured(0, fmt.Errorf("lifecycle: SCO-configure submission failed: rc=%d", rc))
		}
	})
}

func (c *Controller) onSCOConfigured(arg int, err error) {
	if err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.WithError(err).Warn("SCO configure failed")
		}
		if c.callbacks.PostloadFinished != nil {
			c.callbacks.PostloadFinished(false)
		}
		return
	}
	cmd := make([]byte, 3)
	binary.LittleEndian.PutUint16(cmd[0:2], constants.OpcodeReadBufferSize)
	cmd[2] = 0
	c.sched.TransmitCommand(cmd, func(pkt *packet.Packet, ctx any) {
		pkt.Release()
		c.mu.Lock()
		c.state = Running
		c.mu.Unlock()
		if c.callbacks.PostloadFinished != nil {
			c.callbacks.PostloadFinished(true)
		}
	}, nil, nil)
}

// SetChipPowerOn routes directly to the vendor driver.
func (c *Controller) SetChipPowerOn(on bool) error {
	arg := 0
	if on {
		arg = 1
	}
	return c.cfg.Vendor.SendCommand(vendor.ChipPowerControl, arg)
}

// TurnOnLogging opens a btsnoop capture file and wires it into the
// scheduler. Safe to call from any goroutine.
func (c *Controller) TurnOnLogging(path string) error {
	logger, err := btsnoop.Open(path)
	if err != nil {
		return err
	}
	c.btsnoopMu.Lock()
	prev := c.btsnoop
	c.btsnoop = logger
	c.btsnoopMu.Unlock()
	c.sched.SetBTSnoop(logger)
	if prev != nil {
		prev.Close()
	}
	return nil
}

// TurnOffLogging detaches and closes the capture file, if any.
func (c *Controller) TurnOffLogging() {
	c.sched.SetBTSnoop(nil)
	c.btsnoopMu.Lock()
	prev := c.btsnoop
	c.btsnoop = nil
	c.btsnoopMu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// TransmitCommand delegates to the scheduler.
func (c *Controller) TransmitCommand(cmd []byte, onComplete pendingcmd.CompleteCallback, onStatus pendingcmd.StatusCallback, ctx any) {
	c.sched.TransmitCommand(cmd, onComplete, onStatus, ctx)
}

// TransmitDownward delegates to the scheduler.
func (c *Controller) TransmitDownward(tag packet.EventTag, data []byte) {
	c.sched.TransmitDownward(tag, data)
}

// SendLowPowerCommand forwards to the low-power manager.
func (c *Controller) SendLowPowerCommand(cmd []byte) error {
	return c.cfg.LowPower.SendCommand(cmd)
}

// InjectInbound feeds externally-supplied bytes through the same
// inbound path a HAL notification would, for the debug injection
// side-channel. Silently dropped if the event loop isn't up.
func (c *Controller) InjectInbound(t packet.Type, data []byte) {
	c.mu.Lock()
	started := c.schedStarted
	c.mu.Unlock()
	if !started {
		return
	}
	c.sched.InjectInbound(t, data)
}

// ShutDown is idempotent: a second call is a no-op save for a warning
// log. If the event loop exists and firmware was configured, it runs
// the epilog handshake (bounded by EpilogTimeout, 3000ms by default)
// before stopping the thread; otherwise it stops immediately. It always tears down every collaborator in reverse
// bring-up order.
func (c *Controller) ShutDown() {
	c.mu.Lock()
	if c.hasShutDown {
		c.mu.Unlock()
		if c.cfg.Logger != nil {
			c.cfg.Logger.Warn("shut_down called more than once")
		}
		return
	}
	c.hasShutDown = true
	firmwareConfigured := c.firmwareConfigured
	schedStarted := c.schedStarted
	c.schedStarted = false
	c.mu.Unlock()

	if c.cfg.Inject != nil {
		c.cfg.Inject.Close()
	}

	if schedStarted {
		c.mu.Lock()
		c.state = Epiloging
		c.mu.Unlock()

		if firmwareConfigured {
			c.runEpilog()
		}
		c.sched.Stop()
	}

	if c.pending != nil {
		c.pending.Stop()
	}
	if c.cfg.Fragmenter != nil {
		c.cfg.Fragmenter.Cleanup()
	}
	if c.cfg.HAL != nil {
		c.cfg.HAL.Close()
	}
	if c.cfg.Vendor != nil {
		c.cfg.Vendor.SendCommand(vendor.ChipPowerControl, 0)
		c.cfg.Vendor.Close()
	}

	c.btsnoopMu.Lock()
	prev := c.btsnoop
	c.btsnoop = nil
	c.btsnoopMu.Unlock()
	if prev != nil {
		prev.Close()
	}

	c.mu.Lock()
	c.state = Down
	c.mu.Unlock()
}

// runEpilog posts the epilog task, arms the 3000ms alarm, and waits
// for whichever of the epilog-done callback or the alarm fires first.
func (c *Controller) runEpilog() {
	c.epilogMu.Lock()
	c.epilogDone = make(chan struct{})
	c.epilogOnce = &sync.Once{}
	once := c.epilogOnce
	done := c.epilogDone
	c.epilogTimer = time.AfterFunc(c.cfg.EpilogTimeout, func() {
		once.Do(func() { close(done) })
	})
	c.epilogMu.Unlock()

	c.sched.Post(func() {
		if rc := c.cfg.Vendor.SendAsyncCommand(vendor.DoEpilog, 0); rc < 0 {
			c.onEpilogDone(0, fmt.Errorf("lifecycle: epilog submission failed: rc=%d", rc))
		}
	})

	<-done
	c.epilogMu.Lock()
	if c.epilogTimer != nil {
		c.epilogTimer.Stop()
	}
	c.epilogMu.Unlock()
}

func (c *Controller) onEpilogDone(arg int, err error) {
	c.epilogMu.Lock()
	once := c.epilogOnce
	done := c.epilogDone
	c.epilogMu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() { close(done) })
}
