package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFragmentReassemble(t *testing.T) {
	c := &PeerChannel{l: zap.NewNop()}

	for _, size := range []int{0, 1, 9, 10, 11, 95} {
		data := bytes.Repeat([]byte{0xab}, size)
		chunks := fragment(data, 10)

		wantChunks := max(1, (size+9)/10)
		require.Len(t, chunks, wantChunks, "size %d", size)

		var got []byte
		var done bool
		for i, chunk := range chunks {
			require.False(t, done, "frame completed early at chunk %d", i)
			got, done = c.reassemble(chunk)
		}
		require.True(t, done, "size %d", size)
		assert.Len(t, got, size)
	}
}

func TestReassembleIgnoresEmptyChunk(t *testing.T) {
	c := &PeerChannel{l: zap.NewNop()}
	_, ok := c.reassemble(nil)
	assert.False(t, ok)
}

// mailbox mimics the relay's SDP endpoints.
type mailbox struct {
	mu    sync.Mutex
	boxes map[string][]byte
}

func (m *mailbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		m.boxes[r.URL.Path] = body
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		body, ok := m.boxes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	}
}

func TestSignalClientWait(t *testing.T) {
	srv := httptest.NewServer(&mailbox{boxes: map[string][]byte{}})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	robot := NewSignalClient(srv.URL+"/", "kitchen")
	controller := NewSignalClient(srv.URL, "kitchen")

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, controller.Put(ctx, "offer", SignalDescription{Peer: "controller", SDP: sdp}))

	got, err := robot.Wait(ctx, "offer", "robot", 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, "controller", got.Peer)
	assert.JSONEq(t, string(sdp), string(got.SDP))

	// own description is skipped until the context expires
	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancelShort()
	_, err = controller.Wait(short, "offer", "controller", 10*time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPeerChannelSendBeforeChannelsOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &PeerChannel{l: zap.NewNop(), ctx: ctx, cancel: cancel}

	assert.NoError(t, c.Send([]byte("pose"), BestEffort), "no peer")
	assert.NoError(t, c.Send([]byte("waypoint"), Reliable), "no peer")

	c.remote = "robot"
	c.onConnectionState(webrtc.PeerConnectionStateConnected)
	require.Equal(t, []string{"robot"}, c.Peers())
	assert.NoError(t, c.Send([]byte("pose"), BestEffort))
	assert.ErrorIs(t, c.Send([]byte("waypoint"), Reliable), ErrTransportFailure)

	cancel()
	assert.ErrorIs(t, c.Send([]byte("waypoint"), Reliable), ErrClosed)
}
