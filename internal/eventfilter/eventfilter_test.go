package eventfilter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcigo/hci/internal/packet"
	"github.com/hcigo/hci/internal/pendingcmd"
)

func releaseTracking() (packet.ReleaseFunc, *int) {
	count := 0
	return func(*packet.Packet) { count++ }, &count
}

func commandCompleteEvent(opcode uint16, credits byte, release packet.ReleaseFunc) *packet.Packet {
	buf := []byte{0x0E, 0x04, credits, byte(opcode), byte(opcode >> 8), 0x00}
	return packet.New(buf, packet.ControllerToStackEvent, release)
}

func commandStatusEvent(opcode uint16, status, credits byte, release packet.ReleaseFunc) *packet.Packet {
	buf := []byte{0x0F, 0x04, status, credits, byte(opcode), byte(opcode >> 8)}
	return packet.New(buf, packet.ControllerToStackEvent, release)
}

func TestHandleEvent_CommandCompleteWithCallback(t *testing.T) {
	release, releaseCount := releaseTracking()
	pending := pendingcmd.NewList(time.Hour, func(uint16) { t.Fatal("watchdog must not fire") }, nil)

	var gotPkt *packet.Packet
	cmd := &pendingcmd.PendingCommand{
		Opcode: 0x0C03,
		OnComplete: func(p *packet.Packet, ctx any) {
			gotPkt = p
		},
		Cmd: packet.New([]byte{1, 3, 0x0C, 0x00}, packet.StackToControllerCommand, release),
	}
	pending.EnqueuePending(cmd)
	pending.RestartWatchdog()

	f := New(pending, nil)
	evtPkt := commandCompleteEvent(0x0C03, 1, release)

	result := f.HandleEvent(evtPkt)
	require.True(t, result.Consumed, "expected event consumed")
	require.True(t, result.CreditsUpdated)
	assert.Equal(t, 1, result.NewCredits)
	assert.False(t, result.ViaStatus, "command-complete must not set ViaStatus")
	assert.Same(t, evtPkt, gotPkt, "expected completion callback to receive the event packet")
	assert.Equal(t, 1, *releaseCount, "only cmd.Cmd is released; the event pkt is callback-owned")
	assert.Equal(t, 0, pending.Len())
}

func TestHandleEvent_CommandCompleteNoCallbackFreesPacket(t *testing.T) {
	release, releaseCount := releaseTracking()
	pending := pendingcmd.NewList(time.Hour, func(uint16) {}, nil)
	cmd := &pendingcmd.PendingCommand{
		Opcode: 0x1001,
		Cmd:    packet.New([]byte{1, 1, 0x10, 0x00}, packet.StackToControllerCommand, release),
	}
	pending.EnqueuePending(cmd)

	f := New(pending, nil)
	evt := commandCompleteEvent(0x1001, 2, release)
	result := f.HandleEvent(evt)

	require.True(t, result.Consumed)
	assert.Equal(t, 2, result.NewCredits)
	assert.Equal(t, 2, *releaseCount, "cmd.Cmd and the event packet both released")
}

func TestHandleEvent_CommandCompleteUnmatchedOpcode(t *testing.T) {
	release, releaseCount := releaseTracking()
	pending := pendingcmd.NewList(time.Hour, func(uint16) {}, nil)
	pending.EnqueuePending(&pendingcmd.PendingCommand{Opcode: 0x1001, Cmd: packet.New(nil, 0, nil)})

	f := New(pending, nil)
	evt := commandCompleteEvent(0xDEAD, 3, release)
	result := f.HandleEvent(evt)

	assert.True(t, result.Consumed, "unmatched command-complete is still consumed")
	assert.Equal(t, 1, pending.Len(), "unrelated pending entry must survive")
	assert.Equal(t, 1, *releaseCount, "expected the event packet released")
}

func TestHandleEvent_CommandStatusWithCallbackOwnsCommand(t *testing.T) {
	release, releaseCount := releaseTracking()
	pending := pendingcmd.NewList(time.Hour, func(uint16) {}, nil)

	var gotStatus byte
	var gotCmd *packet.Packet
	origCmd := packet.New([]byte{1, 2, 0x10, 0x00}, packet.StackToControllerCommand, release)
	pending.EnqueuePending(&pendingcmd.PendingCommand{
		Opcode: 0x1002,
		OnStatus: func(status byte, cmd *packet.Packet, ctx any) {
			gotStatus = status
			gotCmd = cmd
		},
		Cmd: origCmd,
	})

	f := New(pending, nil)
	evt := commandStatusEvent(0x1002, 0x0C, 1, release)
	result := f.HandleEvent(evt)

	require.True(t, result.Consumed)
	assert.Equal(t, 1, result.NewCredits)
	assert.Equal(t, byte(0x0C), gotStatus)
	assert.Same(t, origCmd, gotCmd)
	assert.Equal(t, 1, *releaseCount, "only the event packet; command owned by the callback")
	assert.True(t, result.ViaStatus, "command-status completion must set ViaStatus")
}

func TestHandleEvent_CommandStatusNoCallbackFreesCommand(t *testing.T) {
	release, releaseCount := releaseTracking()
	pending := pendingcmd.NewList(time.Hour, func(uint16) {}, nil)
	pending.EnqueuePending(&pendingcmd.PendingCommand{
		Opcode: 0x1003,
		Cmd:    packet.New([]byte{1, 3, 0x10, 0x00}, packet.StackToControllerCommand, release),
	})

	f := New(pending, nil)
	evt := commandStatusEvent(0x1003, 0x00, 1, release)
	result := f.HandleEvent(evt)

	require.True(t, result.Consumed)
	assert.Equal(t, 2, *releaseCount, "command released (no callback) + event packet")
}

func TestHandleEvent_NonCorrelationEventNotConsumed(t *testing.T) {
	pending := pendingcmd.NewList(time.Hour, func(uint16) {}, nil)
	f := New(pending, nil)
	evt := packet.New([]byte{0x05, 0x04, 0, 0, 0, 0}, packet.ControllerToStackEvent, nil) // EVT_DISCONN_COMPLETE-style
	result := f.HandleEvent(evt)
	assert.False(t, result.Consumed, "non-correlation events must be forwarded upward, not consumed")
}
