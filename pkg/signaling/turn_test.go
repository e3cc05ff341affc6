package signaling

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/turn/v4"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startLocalTurnServer spins up a real pion/turn/v4 UDP relay on loopback,
// grounded on the example unified STUN/TURN server's initializeUDPTURNServer
// (relay generator + auth handler wiring), trimmed to a single listener for
// test speed.
func startLocalTurnServer(t *testing.T, username, password, realm string) (addr string, close func()) {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	authKey := turn.GenerateAuthKey(username, realm, password)
	server, err := turn.NewServer(turn.ServerConfig{
		Realm: realm,
		AuthHandler: func(u, r string, srcAddr net.Addr) ([]byte, bool) {
			if u != username || r != realm {
				return nil, false
			}
			return authKey, true
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: conn,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: net.ParseIP("127.0.0.1"),
					Address:      "127.0.0.1",
				},
			},
		},
	})
	require.NoError(t, err)

	return conn.LocalAddr().String(), func() { server.Close() }
}

// TestGetTurnCredentialsParsesAndWorksAgainstRealServer validates that
// GetTurnCredentials decodes the GET /v1/turn response into TurnServers
// whose URLs/username/credential a real webrtc.PeerConnection can use to
// gather a relay candidate from a local pion/turn/v4 server.
func TestGetTurnCredentialsParsesAndWorksAgainstRealServer(t *testing.T) {
	const username, password, realm = "roj1-test-user", "roj1-test-pass", "roj1signal.test"
	addr, closeServer := startLocalTurnServer(t, username, password, realm)
	defer closeServer()

	transport := newFakeTransport()
	c := newTestChannel(t, transport, nil)

	resultCh := make(chan []TurnServer, 1)
	errCh := make(chan error, 1)
	go func() {
		servers, err := c.GetTurnCredentials(context.Background())
		resultCh <- servers
		errCh <- err
	}()

	waitForSent(t, transport, 1)
	f, _ := transport.lastSent()
	transport.respondOK(f.RequestID, map[string]any{
		"iceServers": []any{
			map[string]any{
				"urls":       "turn:" + addr,
				"username":   username,
				"credential": password,
			},
		},
	})

	require.NoError(t, <-errCh)
	servers := <-resultCh
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"turn:" + addr}, servers[0].URLs)
	assert.Equal(t, username, servers[0].Username)
	assert.Equal(t, password, servers[0].Credential)

	iceServer := webrtc.ICEServer{
		URLs:       servers[0].URLs,
		Username:   servers[0].Username,
		Credential: servers[0].Credential,
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: []webrtc.ICEServer{iceServer}})
	require.NoError(t, err)
	defer pc.Close()

	_, err = pc.CreateDataChannel("probe", nil)
	require.NoError(t, err)

	relayFound := make(chan struct{})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && cand.Typ == webrtc.ICECandidateTypeRelay {
			select {
			case <-relayFound:
			default:
				close(relayFound)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))

	select {
	case <-relayFound:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a relay candidate from the local TURN server")
	}
}
