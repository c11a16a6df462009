// Command ridersafe connects to the rider's sensor unit, tracks its location
// telemetry and sends emergency alerts to the rider's contacts.
//
// Modes
//
//  1. Run the service (control API, optional SOS button, auto-arm):
//     ridersafe -config ridersafe.yaml
//     ridersafe -config ridersafe.yaml -device AA:BB:CC:DD:EE:FF
//
//  2. List bonded serial-profile devices:
//     ridersafe -mode=scan -timeout=15s
//
//  3. Connect and print fixes (scan and prompt when -device is empty):
//     ridersafe -mode=connect -timeout=120s
//
//  4. Send one SOS with the fallback location and exit:
//     ridersafe -mode=sos
//
// Settings come from the YAML file, a .env file in the working directory and
// RIDERSAFE_* environment variables. transport.kind=sim runs against a
// simulated sensor unit.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rider-safety/internal/alert"
	"rider-safety/internal/button"
	"rider-safety/internal/config"
	"rider-safety/internal/connmgr"
	"rider-safety/internal/location"
	"rider-safety/internal/logging"
	"rider-safety/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional; env overrides apply)")
	mode := flag.String("mode", "run", "mode: run|scan|connect|sos")
	device := flag.String("device", "", "device address to connect. Empty in connect mode: scan and prompt.")
	timeout := flag.Duration("timeout", 0, "overall timeout (0 = until Ctrl-C)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.Logging)

	// Context with optional timeout + Ctrl-C cancellation
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	p, err := openParts(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	a := newApp(ctx, cfg, p, logger)

	code := 0
	switch strings.ToLower(*mode) {
	case "run":
		err = runService(ctx, a, *device)
	case "scan":
		err = runScan(ctx, a)
	case "connect":
		err = runConnect(ctx, a, *device)
	case "sos":
		var res alert.Result
		res, err = runSOS(ctx, a)
		if err == nil && res.Status != alert.StatusSucceeded {
			code = 1
		}
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}
	if err != nil {
		logger.WithError(err).Error("ridersafe failed")
		code = 1
	}
	if cerr := a.Close(); cerr != nil {
		logger.WithError(cerr).Warn("close error")
	}
	os.Exit(code)
}

func runService(ctx context.Context, a *app, device string) error {
	if a.cfg.HTTP.Enable {
		srv := web.NewServer(a.cfg.HTTP.Listen, web.Router(a.webDeps()), a.log)
		go func() {
			if err := srv.Start(); err != nil {
				a.log.WithError(err).Error("http server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	if a.cfg.Button.Enable {
		go func() {
			err := button.Watch(ctx, button.Config{
				Chip:     a.cfg.Button.Chip,
				Line:     a.cfg.Button.Line,
				Debounce: a.cfg.Button.Debounce,
			}, func() { a.trigger.Manual(ctx) }, a.log)
			if err != nil {
				a.log.WithError(err).Error("SOS button unavailable")
			}
		}()
	}

	if device != "" {
		if err := a.connect(ctx, connmgr.Device{Address: device}); err != nil {
			a.log.WithError(err).Warn("initial connect failed; waiting for API requests")
		}
	}

	a.log.Info("ridersafe running")
	<-ctx.Done()
	return nil
}

func (a *app) connect(ctx context.Context, dev connmgr.Device) error {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.Transport.Timeout)
	defer cancel()
	a.log.WithField("device", dev.Address).Infof("Connecting (timeout=%s)...", deadlineStr(cctx))
	return a.manager.Connect(cctx, dev)
}

func runScan(ctx context.Context, a *app) error {
	devs, err := a.manager.Scan(ctx)
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Println("no bonded devices found")
		return nil
	}
	printDevices(devs)
	return nil
}

func runConnect(ctx context.Context, a *app, address string) error {
	dev := connmgr.Device{Address: address}
	if address == "" {
		fmt.Println("Scanning for bonded devices to choose...")
		devs, err := a.manager.Scan(ctx)
		if err != nil {
			return err
		}
		if len(devs) == 0 {
			fmt.Println("no bonded devices found")
			return nil
		}
		printDevices(devs)
		fmt.Print("Choose index: ")
		i, ok := readIndex(len(devs))
		if !ok {
			return fmt.Errorf("no device chosen")
		}
		dev = devs[i]
	}

	fixes := make(chan location.Update, 16)
	cancel := a.store.Subscribe(func(u location.Update) {
		select {
		case fixes <- u:
		default:
		}
	})
	defer cancel()

	if err := a.connect(ctx, dev); err != nil {
		return err
	}
	fmt.Printf("CONNECTED: %s\n", dev.Address)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-fixes:
			fmt.Printf("FIX #%d %s\n", u.Seq, u.Fix)
		}
	}
}

func runSOS(ctx context.Context, a *app) (alert.Result, error) {
	res := a.trigger.Manual(ctx)
	title, body := res.Message()
	if res.Status == alert.StatusBusy {
		return res, fmt.Errorf("another alert is already being sent")
	}
	fmt.Printf("%s: %s\n", title, body)
	if res.Reason != "" {
		fmt.Printf("reason: %s\n", res.Reason)
	}
	return res, nil
}

func printDevices(devs []connmgr.Device) {
	for i, d := range devs {
		fmt.Printf("[%d] Address=%s Name=%s Path=%s\n", i, d.Address, d.Name, d.Path)
	}
}

// readIndex prompts until a valid index is entered or stdin ends.
func readIndex(n int) (int, bool) {
	r := bufio.NewReader(os.Stdin)
	for {
		line, rerr := r.ReadString('\n')
		i, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && i >= 0 && i < n {
			return i, true
		}
		if rerr != nil {
			return 0, false
		}
		fmt.Printf("enter 0..%d: ", n-1)
	}
}

func deadlineStr(ctx context.Context) string {
	if d, ok := ctx.Deadline(); ok {
		return time.Until(d).Truncate(time.Second).String()
	}
	return "none"
}
