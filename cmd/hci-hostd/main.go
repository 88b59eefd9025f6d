package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hcigo/hci"
	"github.com/hcigo/hci/internal/hal"
	"github.com/hcigo/hci/internal/logging"
)

func main() {
	var (
		tty        = flag.String("tty", "", "Serial device to open (e.g. /dev/ttyUSB0); empty uses an in-memory fake HAL that records writes and never replies")
		iface      = flag.String("iface", "hci0", "Interface name passed to the vendor driver")
		btsnoopOut = flag.String("btsnoop", "", "If set, capture every packet to this btsnoop file")
		inject     = flag.String("inject", "", "If set, open the HCI injection debug socket at this path")
		verbose    = flag.Bool("v", false, "Verbose (debug-level) logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var transport hal.HAL
	if *tty != "" {
		transport = hal.NewUART(*tty, logger)
		logger.Info("using serial transport", "tty", *tty)
	} else {
		transport = hci.NewMockHAL()
		logger.Info("using in-memory fake transport (no -tty given)")
	}

	vendorDriver := hci.NewMockVendorDriver()

	opts := hci.DefaultOptions()
	opts.HAL = transport
	opts.Vendor = vendorDriver
	opts.Iface = *iface
	opts.Logger = logger
	opts.InjectSocketPath = *inject

	stack := hci.NewStack(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	preloadDone := make(chan bool, 1)
	postloadDone := make(chan bool, 1)

	ok := stack.StartUp([6]byte{}, hci.Callbacks{
		PreloadFinished: func(ok bool) {
			preloadDone <- ok
			if ok {
				stack.DoPostload()
			}
		},
		PostloadFinished: func(ok bool) { postloadDone <- ok },
	})
	if !ok {
		logger.Error("startup failed")
		os.Exit(1)
	}
	defer func() {
		logger.Info("shutting down")
		stack.ShutDown()
	}()

	if *btsnoopOut != "" {
		if err := stack.TurnOnLogging(*btsnoopOut); err != nil {
			logger.Error("failed to open btsnoop capture", "error", err, "path", *btsnoopOut)
		} else {
			logger.Info("btsnoop capture started", "path", *btsnoopOut)
		}
	}

	stack.DoPreload()

	select {
	case ok := <-preloadDone:
		if !ok {
			logger.Error("preload failed")
			os.Exit(1)
		}
		logger.Info("preload finished")
	case <-time.After(10 * time.Second):
		logger.Error("preload timed out")
		os.Exit(1)
	case <-ctx.Done():
		return
	}

	select {
	case ok := <-postloadDone:
		if !ok {
			logger.Error("postload failed")
			os.Exit(1)
		}
		logger.Info("postload finished", "state", stack.State().String())
	case <-time.After(10 * time.Second):
		logger.Error("postload timed out")
		os.Exit(1)
	case <-ctx.Done():
		return
	}

	fmt.Printf("hci-hostd running, state=%s\n", stack.State())
	fmt.Printf("Press Ctrl+C to stop...\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()
}
