package hci

import (
	"github.com/hcigo/hci/internal/fragmenter"
	"github.com/hcigo/hci/internal/hal"
	"github.com/hcigo/hci/internal/lowpower"
	"github.com/hcigo/hci/internal/vendor"
)

// MockHAL is an in-memory HAL for integration tests against a Stack
// without real hardware: Inject appends controller-to-host bytes,
// Written records everything transmitted.
type MockHAL = hal.Fake

func NewMockHAL() *MockHAL { return hal.NewFake() }

// MockVendorDriver is an in-memory vendor.Driver. Async commands
// complete immediately by default (AutoComplete); set it false and
// drive completion manually via Complete to control timing.
type MockVendorDriver = vendor.Fake

func NewMockVendorDriver() *MockVendorDriver { return vendor.NewFake() }

// MockLowPower records WakeAssert/TransmitDone/SendCommand call
// counts, for tests asserting a Stack brackets every dispatch.
type MockLowPower = lowpower.Counting

func NewMockLowPower() *MockLowPower { return lowpower.NewCounting() }

// MockFragmenter is the real L2CAP fragmenter/reassembler: there is no
// hardware dependency to fake here, so tests exercise the genuine
// fragmentation logic against a MockHAL instead of a stub.
type MockFragmenter = fragmenter.L2CAP

func NewMockFragmenter(mtu int) *MockFragmenter { return fragmenter.New(mtu) }
