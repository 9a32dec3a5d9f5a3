// Package main implements a telemetry simulator for exercising DSP ingress.
// It connects to a running service and sends heartbeat or opaque frames at a
// configurable rate until interrupted or the requested count is reached.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ystre/dsp/daemon"
	"github.com/ystre/dsp/pkg/ratelimit"
	"github.com/ystre/dsp/pkg/stat"
	"github.com/ystre/dsp/tcp"
)

const (
	lengthPrefixSize = 2
	telemetryMinimum = lengthPrefixSize + 2
	heartbeatSize    = 24

	typeHeartbeat  = 0
	typeDynMessage = 1
)

type simConfig struct {
	Address  string
	ClientID uint64
	Rate     float64
	Count    int64
	Kind     string
	Size     int
}

func parseFlags() *simConfig {
	cfg := &simConfig{}

	flag.StringVar(&cfg.Address, "address", "localhost:7200", "Server address")
	flag.Uint64Var(&cfg.ClientID, "client-id", 72, "Client ID used in heartbeat messages")
	flag.Float64Var(&cfg.Rate, "rate", 1, "Messages per second")
	flag.Int64Var(&cfg.Count, "count", 0, "Number of messages to send, 0 for unlimited")
	flag.StringVar(&cfg.Kind, "type", "heartbeat", "Message type: heartbeat, dyn")
	flag.IntVar(&cfg.Size, "size", 64, "Payload size for dyn messages")

	flag.Parse()
	return cfg
}

func validateFlags(cfg *simConfig) error {
	if cfg.Rate <= 0 {
		return fmt.Errorf("invalid rate: %f", cfg.Rate)
	}
	switch cfg.Kind {
	case "heartbeat", "dyn":
	default:
		return fmt.Errorf("invalid message type: %s", cfg.Kind)
	}
	if cfg.Size < 0 {
		return fmt.Errorf("invalid payload size: %d", cfg.Size)
	}
	return nil
}

// heartbeatFrame serializes one heartbeat with the current sequence number.
func heartbeatFrame(clientID, sequence uint64) []byte {
	frame := make([]byte, telemetryMinimum+heartbeatSize)
	binary.BigEndian.PutUint16(frame, uint16(len(frame)))
	binary.BigEndian.PutUint16(frame[lengthPrefixSize:], typeHeartbeat)
	binary.BigEndian.PutUint64(frame[4:], clientID)
	binary.BigEndian.PutUint64(frame[12:], sequence)
	binary.BigEndian.PutUint64(frame[20:], uint64(time.Now().UnixNano()))
	return frame
}

// dynFrame serializes one opaque message of the requested size.
func dynFrame(size int) []byte {
	frame := make([]byte, telemetryMinimum+size)
	binary.BigEndian.PutUint16(frame, uint16(len(frame)))
	binary.BigEndian.PutUint16(frame[lengthPrefixSize:], typeDynMessage)
	for i := telemetryMinimum; i < len(frame); i++ {
		frame[i] = byte(i)
	}
	return frame
}

func main() {
	if err := run(); err != nil {
		slog.Error("Simulator failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()
	if err := validateFlags(cfg); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	signals := daemon.NewSignalState(logger)
	signals.Install()
	defer signals.Uninstall()

	client := tcp.NewClient(cfg.Address)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := client.Connect(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Address, err)
	}
	defer client.Close()

	logger.Info("Connected",
		"address", cfg.Address,
		"type", cfg.Kind,
		"rate", cfg.Rate)

	bucket := ratelimit.NewBucket(cfg.Rate, cfg.Rate)
	stats := stat.New()

	var sequence uint64
	for cfg.Count == 0 || int64(sequence) < cfg.Count {
		if signals.StopRequested() {
			break
		}

		if err := bucket.Take(context.Background(), 1); err != nil {
			return err
		}

		var frame []byte
		if cfg.Kind == "heartbeat" {
			frame = heartbeatFrame(cfg.ClientID, sequence)
		} else {
			frame = dynFrame(cfg.Size)
		}

		if err := client.Send(frame); err != nil {
			return fmt.Errorf("sending frame %d: %w", sequence, err)
		}
		stats.Observe(len(frame))
		sequence++
	}

	logger.Info("Done", "sent", sequence, "summary", stats.Summary())
	return nil
}
