package webrtcx

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Backpressure water marks for DataChannel sends, mirrored from the
// tunnel's bufferedAmount thresholds: pause sending past HighWaterMark,
// resume once bufferedAmount drops below LowWaterMark.
const (
	HighWaterMark = 256 * 1024
	LowWaterMark  = 64 * 1024
)

// DataChannel wraps a pion DataChannel with send backpressure, so callers
// never need to poll BufferedAmount themselves.
type DataChannel struct {
	raw       *webrtc.DataChannel
	sendReady chan struct{}
}

func newDataChannel(raw *webrtc.DataChannel) *DataChannel {
	dc := &DataChannel{
		raw:       raw,
		sendReady: make(chan struct{}, 1),
	}

	raw.SetBufferedAmountLowThreshold(uint64(LowWaterMark))
	raw.OnBufferedAmountLow(func() {
		select {
		case dc.sendReady <- struct{}{}:
		default:
		}
	})

	return dc
}

// Send writes payload to the channel. If BufferedAmount is above
// HighWaterMark, it first blocks until a buffered-amount-low notification
// (BufferedAmount dropping below LowWaterMark) arrives, or ctx is cancelled.
func (dc *DataChannel) Send(ctx context.Context, payload []byte) error {
	if dc.raw.BufferedAmount() > uint64(HighWaterMark) {
		select {
		case <-dc.sendReady:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return dc.raw.Send(payload)
}

// OnMessage registers fn to receive inbound messages.
func (dc *DataChannel) OnMessage(fn func(webrtc.DataChannelMessage)) {
	dc.raw.OnMessage(fn)
}

// OnOpen registers fn to fire when the channel becomes ready to send.
func (dc *DataChannel) OnOpen(fn func()) { dc.raw.OnOpen(fn) }

// OnClose registers fn to fire when the channel closes.
func (dc *DataChannel) OnClose(fn func()) { dc.raw.OnClose(fn) }

// Label returns the channel's negotiated label.
func (dc *DataChannel) Label() string { return dc.raw.Label() }

// Raw exposes the underlying pion DataChannel.
func (dc *DataChannel) Raw() *webrtc.DataChannel { return dc.raw }
