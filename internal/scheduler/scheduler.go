// Package scheduler implements the single-threaded outbound/inbound
// event loop ("hci_thread"): it owns the command credit count, the
// command and packet queues, and drives the reassembler, event
// filter and fragmenter in response to HAL notifications and posted
// lifecycle tasks.
package scheduler

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hcigo/hci/internal/bufpool"
	"github.com/hcigo/hci/internal/eventfilter"
	"github.com/hcigo/hci/internal/fragmenter"
	"github.com/hcigo/hci/internal/hal"
	"github.com/hcigo/hci/internal/logging"
	"github.com/hcigo/hci/internal/lowpower"
	"github.com/hcigo/hci/internal/packet"
	"github.com/hcigo/hci/internal/pendingcmd"
)

// Observer receives scheduler-level events for metrics collection.
// Defined locally (rather than imported from the root package) so
// this package has no dependency on its own importer.
type Observer interface {
	ObserveCommandSent()
	ObserveCommandComplete(latencyNs uint64)
	ObserveCommandCompleteViaStatus(latencyNs uint64)
	ObserveCommandTimeout()
	ObserveCreditExhaustionStall()
	ObserveReassemblyAllocFailure()
	ObserveEvent()
	ObserveACLIn(bytes uint64)
	ObserveACLOut(bytes uint64)
}

// TransmitFinishedFunc notifies the upper stack that a non-command
// packet has fully left the building.
type TransmitFinishedFunc func(p *packet.Packet, allSent bool)

// UpwardFunc delivers a reassembled inbound packet to the upper stack,
// keyed by packet.Event & EventTypeMask.
type UpwardFunc func(p *packet.Packet)

// BTSnoop is the subset of *btsnoop.Logger the scheduler depends on,
// so tests can substitute a recording fake without touching a file.
type BTSnoop interface {
	Log(t packet.Type, data []byte, incoming bool) error
}

// Config wires every collaborator the scheduler drives.
type Config struct {
	HAL             hal.HAL
	Fragmenter      fragmenter.Fragmenter
	LowPower        lowpower.Manager
	Pending         *pendingcmd.List
	EventFilter     *eventfilter.Filter
	BTSnoop         BTSnoop // nil disables capture
	Observer        Observer // nil disables metrics
	Upward          UpwardFunc
	TransmitFinished TransmitFinishedFunc
	Logger          *logging.Logger
	InitialCredits  int
}

// Scheduler is the outbound command/packet queue plus the inbound
// data-ready dispatch, run on one pinned goroutine.
type Scheduler struct {
	hal         hal.HAL
	frag        fragmenter.Fragmenter
	lowPower    lowpower.Manager
	pending     *pendingcmd.List
	filter      *eventfilter.Filter
	btsnoop     BTSnoop
	observer    Observer
	upward      UpwardFunc
	transmitFin TransmitFinishedFunc
	logger      *logging.Logger
	reassembler *packet.Reassembler

	credits int // event-loop-thread only

	qmu          sync.Mutex
	commandQueue []*pendingcmd.PendingCommand
	packetQueue  []*packet.Packet

	dispatchedAtMu sync.Mutex
	dispatchedAt   map[uint16][]time.Time

	poke    chan struct{}
	dataRdy chan packet.Type
	tasks   chan func()
	stop    chan struct{}
	done    chan struct{}
}

func New(cfg Config) *Scheduler {
	s := &Scheduler{
		hal:          cfg.HAL,
		frag:         cfg.Fragmenter,
		lowPower:     cfg.LowPower,
		pending:      cfg.Pending,
		filter:       cfg.EventFilter,
		btsnoop:      cfg.BTSnoop,
		observer:     cfg.Observer,
		upward:       cfg.Upward,
		transmitFin:  cfg.TransmitFinished,
		logger:       cfg.Logger,
		credits:      cfg.InitialCredits,
		dispatchedAt: make(map[uint16][]time.Time),
		poke:         make(chan struct{}, 1),
		dataRdy:      make(chan packet.Type, 16),
		tasks:        make(chan func(), 16),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.reassembler = packet.NewReassembler(allocFn, releaseFn, cfg.Logger, s.onReassemblyAllocFail)
	s.frag.Init(fragmenter.Callbacks{
		TransmitFragment:    s.transmitFragment,
		DispatchReassembled: s.dispatchReassembled,
		AllocFragment:       allocFragmentFn,
	})
	return s
}

func allocFn(size int) []byte { return bufpool.Get(size) }
func releaseFn(p *packet.Packet) {
	if p != nil {
		bufpool.Put(p.Buf)
	}
}
func allocFragmentFn(size int) *packet.Packet {
	return packet.New(bufpool.Get(size), 0, releaseFn)
}

func (s *Scheduler) onReassemblyAllocFail(packet.Type, int) {
	if s.observer != nil {
		s.observer.ObserveReassemblyAllocFailure()
	}
}

// Start launches the event-loop goroutine, pinned to its OS thread for
// the lifetime of the scheduler, and installs the HAL's DataReady
// callback from that thread. If HAL init fails the loop is stopped
// again before Start returns.
func (s *Scheduler) Start() error {
	go s.loop()
	initErr := make(chan error, 1)
	s.Post(func() { initErr <- s.hal.Init(hal.Callbacks{DataReady: s.onDataReady}) })
	if err := <-initErr; err != nil {
		s.Stop()
		return fmt.Errorf("scheduler: hal init: %w", err)
	}
	return nil
}

// Stop signals the event loop to exit, waits for it to do so, and
// releases any queued commands/packets that never got dispatched.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done

	s.qmu.Lock()
	for _, c := range s.commandQueue {
		c.Cmd.Release()
	}
	s.commandQueue = nil
	for _, p := range s.packetQueue {
		p.Release()
	}
	s.packetQueue = nil
	s.qmu.Unlock()
}

// SetBTSnoop swaps the capture logger. Safe to call from any
// goroutine; the swap itself happens on the event-loop thread so it
// never races the logger reads in deliverInbound/transmitFragment.
func (s *Scheduler) SetBTSnoop(b BTSnoop) {
	s.Post(func() { s.btsnoop = b })
}

// InjectInbound feeds data through the same deliverInbound path a
// real HAL DataReady notification would, tagged as if it arrived from
// the controller. Safe to call from any goroutine (e.g. the inject
// channel's accept loop); the packet is built and dispatched on the
// event-loop thread.
func (s *Scheduler) InjectInbound(t packet.Type, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	tag := packet.InboundTag(t)
	s.Post(func() {
		s.deliverInbound(packet.New(cp, tag, nil))
	})
}

// Post schedules fn to run on the event-loop thread. Safe to call
// from any goroutine.
func (s *Scheduler) Post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.stop:
	}
}

// onDataReady is the HAL's notification callback; it may run on the
// HAL's own thread (e.g. the UART demux goroutine), so it only
// enqueues a notification rather than touching event-loop state.
func (s *Scheduler) onDataReady(t packet.Type) {
	select {
	case s.dataRdy <- t:
	default:
		// Channel full: a notification for this type is already
		// pending, and the loop will drain everything available on
		// its next pass regardless.
	}
	s.wake()
}

func (s *Scheduler) wake() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// TransmitCommand admits a command for dispatch under credit control.
// Safe to call from any thread.
func (s *Scheduler) TransmitCommand(cmd []byte, onComplete pendingcmd.CompleteCallback, onStatus pendingcmd.StatusCallback, ctx any) {
	if len(cmd) < 2 {
		if s.logger != nil {
			s.logger.Warn("transmit_command: command shorter than an opcode", "len", len(cmd))
		}
		return
	}
	opcode := binary.LittleEndian.Uint16(cmd[0:2])
	entry := &pendingcmd.PendingCommand{
		Opcode:     opcode,
		OnComplete: onComplete,
		OnStatus:   onStatus,
		Ctx:        ctx,
		Cmd:        packet.New(cmd, packet.StackToControllerCommand, releaseFn),
	}
	s.qmu.Lock()
	s.commandQueue = append(s.commandQueue, entry)
	s.qmu.Unlock()
	s.wake()
}

// TransmitDownward routes a tagged buffer to the command queue (with a
// deprecation warning) when it names the COMMAND type, and to the
// packet queue otherwise.
func (s *Scheduler) TransmitDownward(tag packet.EventTag, data []byte) {
	if tag.Type() == packet.Command {
		if s.logger != nil {
			s.logger.Warn("transmit_downward called with a COMMAND tag; use transmit_command instead")
		}
		s.TransmitCommand(data, nil, nil, nil)
		return
	}
	p := packet.New(data, tag, releaseFn)
	s.qmu.Lock()
	s.packetQueue = append(s.packetQueue, p)
	s.qmu.Unlock()
	s.wake()
}

func (s *Scheduler) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case fn := <-s.tasks:
			fn()
		case t := <-s.dataRdy:
			s.drainDataReady(t)
		case <-s.poke:
		}
		s.tryDispatchCommand()
		s.tryDispatchDataPacket()
	}
}

func (s *Scheduler) drainDataReady(t packet.Type) {
	for {
		pkt := s.reassembler.OnDataReady(t, func(dst []byte) int {
			return s.hal.ReadData(t, dst, false)
		})
		if pkt == nil {
			return
		}
		s.hal.PacketFinished(t)
		s.deliverInbound(pkt)
	}
}

func (s *Scheduler) deliverInbound(pkt *packet.Packet) {
	if s.btsnoop != nil {
		s.btsnoop.Log(pkt.Event.Type(), pkt.Data(), true)
	}

	if pkt.Event.Type() == packet.Event {
		if s.observer != nil {
			s.observer.ObserveEvent()
		}
		result := s.filter.HandleEvent(pkt)
		if result.CreditsUpdated {
			s.credits = result.NewCredits
		}
		if result.Matched {
			s.observeCommandLatency(result.Opcode, result.ViaStatus)
		}
		if result.Consumed {
			return
		}
	}

	if pkt.Event.Type() == packet.ACL && s.observer != nil {
		s.observer.ObserveACLIn(uint64(len(pkt.Data())))
	}
	s.frag.ReassembleAndDispatch(pkt)
}

func (s *Scheduler) dispatchReassembled(p *packet.Packet) {
	if s.upward != nil {
		s.upward(p)
	} else {
		p.Release()
	}
}

func (s *Scheduler) tryDispatchCommand() {
	if s.credits <= 0 {
		s.qmu.Lock()
		stalled := len(s.commandQueue) > 0
		s.qmu.Unlock()
		if stalled && s.observer != nil {
			s.observer.ObserveCreditExhaustionStall()
		}
		return
	}
	s.qmu.Lock()
	if len(s.commandQueue) == 0 {
		s.qmu.Unlock()
		return
	}
	entry := s.commandQueue[0]
	s.commandQueue = s.commandQueue[1:]
	s.qmu.Unlock()

	s.credits--
	s.pending.EnqueuePending(entry)
	s.recordDispatch(entry.Opcode)
	if s.observer != nil {
		s.observer.ObserveCommandSent()
	}

	s.lowPower.WakeAssert()
	if err := s.frag.FragmentAndDispatch(entry.Cmd); err != nil && s.logger != nil {
		s.logger.WithOpcode(entry.Opcode).Warn("command dispatch write failed", "err", err)
	}
	s.lowPower.TransmitDone()
	s.pending.RestartWatchdog()
}

func (s *Scheduler) tryDispatchDataPacket() {
	s.qmu.Lock()
	if len(s.packetQueue) == 0 {
		s.qmu.Unlock()
		return
	}
	p := s.packetQueue[0]
	s.packetQueue = s.packetQueue[1:]
	s.qmu.Unlock()

	s.lowPower.WakeAssert()
	if err := s.frag.FragmentAndDispatch(p); err != nil && s.logger != nil {
		s.logger.Warn("data packet dispatch write failed", "err", err)
	}
	s.lowPower.TransmitDone()
}

// transmitFragment is the fragmenter's outbound hook: it btsnoop-logs,
// writes to the HAL, records ACL-out metrics, and (for non-command
// packets, on the final fragment) tells the upper stack the transmit
// finished.
func (s *Scheduler) transmitFragment(frag *packet.Packet, sendDone bool) error {
	data := frag.Data()
	if s.btsnoop != nil {
		s.btsnoop.Log(frag.Event.Type(), data, false)
	}
	err := s.hal.TransmitData(frag.Event.Type(), data)
	if s.observer != nil && frag.Event.Type() == packet.ACL {
		s.observer.ObserveACLOut(uint64(len(data)))
	}
	if sendDone && frag.Event.Type() != packet.Command && s.transmitFin != nil {
		s.transmitFin(frag, true)
		return err
	}
	frag.Release()
	return err
}

func (s *Scheduler) recordDispatch(opcode uint16) {
	s.dispatchedAtMu.Lock()
	s.dispatchedAt[opcode] = append(s.dispatchedAt[opcode], time.Now())
	s.dispatchedAtMu.Unlock()
}

func (s *Scheduler) observeCommandLatency(opcode uint16, viaStatus bool) {
	if s.observer == nil {
		return
	}
	s.dispatchedAtMu.Lock()
	ts := s.dispatchedAt[opcode]
	var sent time.Time
	found := len(ts) > 0
	if found {
		sent = ts[0]
		s.dispatchedAt[opcode] = ts[1:]
	}
	s.dispatchedAtMu.Unlock()
	if !found {
		return
	}
	latencyNs := uint64(time.Since(sent).Nanoseconds())
	if viaStatus {
		s.observer.ObserveCommandCompleteViaStatus(latencyNs)
	} else {
		s.observer.ObserveCommandComplete(latencyNs)
	}
}

// Credits reports the current command credit count. For tests and
// diagnostics only; production code never reads credits off-thread.
func (s *Scheduler) Credits() int {
	done := make(chan int, 1)
	s.Post(func() { done <- s.credits })
	select {
	case v := <-done:
		return v
	case <-s.stop:
		return 0
	}
}
