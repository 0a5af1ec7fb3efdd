package net

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/lobby/internal/net/packet"
)

func TestWebSocket_SharesFramingAndLifecycle(t *testing.T) {
	rec := newRecorder()
	rec.echo = true
	srv := startServer(t, rec, Options{IdleTimeout: 5 * time.Second}, nil)
	hs := httptest.NewServer(srv)
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	// One frame split over two messages, then two frames in one message.
	first := seqFrame(0x4100, 1)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, first[:3]))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, first[3:]))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, append(seqFrame(0x4100, 2), seqFrame(0x4100, 3)...)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	dec := packet.NewDecoder()
	var got []packet.Packet
	for len(got) < 3 {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		pkts, err := dec.Feed(data)
		require.NoError(t, err)
		got = append(got, pkts...)
	}
	assert.Equal(t, uint16(0x4100), got[2].Command)

	require.NoError(t, ws.Close())
	waitGone(t, rec)

	events := rec.snapshot()
	require.Len(t, events, 5)
	assert.Equal(t, "connect", events[0].kind)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, uint32(i), events[i].seq)
	}
	assert.Equal(t, "disconnect", events[4].kind)
}
