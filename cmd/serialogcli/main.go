package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ultiblox/seriallogger"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	device := flag.String("port", "", "serial device path (overrides config)")
	baud := flag.Int("baud", 0, "baud rate (overrides config)")
	marker := flag.String("marker", "", "data line marker (overrides config, default 'D;')")
	detect := flag.Bool("detect", false, "auto-detect the device port and exit")
	listPorts := flag.Bool("ports", false, "list available serial ports and exit")
	send := flag.String("send", "", "command line to send to the device before listening")
	raw := flag.Bool("raw", false, "print raw lines instead of parsed fields")
	debug := flag.Bool("debug", false, "enable debug logging")
	logFile := flag.String("log-file", "", "mirror logs to a rotating file")
	detectTimeout := flag.Duration("detect-timeout", 10*time.Second, "time budget for -detect")

	flag.Parse()

	if *listPorts {
		ports, err := seriallogger.AvailablePorts()
		if err != nil {
			log.Fatalf("listing ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg := seriallogger.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = seriallogger.LoadConfig(*configPath); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if *device != "" {
		cfg.PortName = *device
	}
	if *baud != 0 {
		cfg.BaudRate = *baud
	}
	if *marker != "" {
		cfg.Marker = *marker
	}
	if *debug {
		cfg.Debug = true
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	l := seriallogger.New(cfg)

	if *detect {
		ctx, cancel := context.WithTimeout(context.Background(), *detectTimeout)
		defer cancel()

		port, err := l.DetectPort(ctx)
		if err != nil {
			log.Fatalf("detect: %v", err)
		}
		fmt.Println(port)
		return
	}

	if *raw {
		l.SetLineHandler(func(line string) {
			fmt.Println(line)
		})
		// A callback is still required; parsed output is suppressed.
		_ = l.SetCallback(func(map[string]string) {})
	} else {
		_ = l.SetCallback(printFields)
	}

	if err := l.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}
	defer l.Stop()

	if *send != "" {
		if _, err := l.WriteLine(*send); err != nil {
			log.Fatalf("send: %v", err)
		}
	}

	log.Printf("listening on %s (baud=%d, marker=%q), Ctrl+C to exit", cfg.PortName, cfg.BaudRate, cfg.Marker)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

// printFields writes one line per telemetry record with stable key order.
func printFields(fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}
	fmt.Println(strings.Join(parts, " "))
}
