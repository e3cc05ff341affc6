package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling traffic counter. Unlike a media
// pipeline's byte counters, what matters here is call and RPC churn: how
// many calls were opened/closed, how many signals crossed the wire, how many
// times the channel had to reconnect.
var Stats = &stats{}

type stats struct {
	CallsStarted   atomic.Int64 // cumulative Call creations (caller or callee side)
	CallsEnded     atomic.Int64 // cumulative transitions into terminated
	SignalsSent    atomic.Int64 // cumulative outbound SignalingMessages
	SignalsRecv    atomic.Int64 // cumulative inbound SignalingMessages routed
	RPCsIssued     atomic.Int64 // cumulative request/response RPCs sent
	RPCRetries     atomic.Int64 // cumulative 429 retry attempts
	Reconnects     atomic.Int64 // cumulative successful reconnects
	BytesSent      atomic.Int64 // cumulative bytes written to the duplex transport
	BytesRecv      atomic.Int64 // cumulative bytes read from the duplex transport
}

func (s *stats) AddCallStarted()  { s.CallsStarted.Add(1) }
func (s *stats) AddCallEnded()    { s.CallsEnded.Add(1) }
func (s *stats) AddSignalSent()   { s.SignalsSent.Add(1) }
func (s *stats) AddSignalRecv()   { s.SignalsRecv.Add(1) }
func (s *stats) AddRPCIssued()    { s.RPCsIssued.Add(1) }
func (s *stats) AddRPCRetry()     { s.RPCRetries.Add(1) }
func (s *stats) AddReconnect()    { s.Reconnects.Add(1) }
func (s *stats) AddSent(n int)    { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)    { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling throughput
// every 10 seconds. It stops when ctx is cancelled. Intended for the example
// harness and long-running embedders, not required by the core itself.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevCalls, prevEnded int64
		for {
			select {
			case <-ticker.C:
				calls := Stats.CallsStarted.Load()
				ended := Stats.CallsEnded.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				inS := float64(sent-prevSent) / 10.0
				outS := float64(recv-prevRecv) / 10.0
				inC := calls - prevCalls
				outC := ended - prevEnded

				if inC > 0 || outC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inC, outC))
				}

				prevSent = sent
				prevRecv = recv
				prevCalls = calls
				prevEnded = ended

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inC, outC int64) string {
	return fmt.Sprintf("Wire: %s/s | %s/s | Calls: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		inC,
		outC,
	)
}
