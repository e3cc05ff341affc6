package webrtcx

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// StatsInterval is how often StartStatsPolling polls GetStats.
const StatsInterval = 5 * time.Second

// StartStatsPolling launches a goroutine that calls fn with a fresh
// StatsReport every StatsInterval, feeding the "stats" event a Call exposes
// to its observers. Polling stops when ctx is cancelled or Close is called.
func (p *Peer) StartStatsPolling(ctx context.Context, fn func(webrtc.StatsReport)) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.statsCancel = cancel
	p.onStats = fn
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report := p.pc.GetStats()
				p.mu.Lock()
				cb := p.onStats
				p.mu.Unlock()
				if cb != nil {
					cb(report)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
