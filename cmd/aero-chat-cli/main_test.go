package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/chat"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/dispatch"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/httpserver"
)

// syncBuffer is written by the receive goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func withoutColor(t *testing.T) {
	t.Helper()
	prev := color.Enable
	color.Enable = false
	t.Cleanup(func() { color.Enable = prev })
}

func startChat(t *testing.T) (wsURL string, sessions *chat.Registry) {
	t.Helper()
	sessions = chat.NewRegistry(nil, nil)
	mux := http.NewServeMux()
	mux.Handle("GET /ws", dispatch.NewChatHandler(sessions, nil, dispatch.Options{}))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", sessions
}

func readLine(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestRenderLine_PlainWhenColorDisabled(t *testing.T) {
	withoutColor(t)

	tests := []struct {
		name string
		line string
	}{
		{"prompt", dispatch.UsernamePrompt},
		{"join", chat.JoinNotice("ann").TerminalLine()},
		{"leave", chat.LeaveNotice("ann").TerminalLine()},
		{"message", "ann: hello: world"},
		{"bare", "no separator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.line, renderLine(tt.line))
		})
	}
}

func TestStatsURLFor(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ws://127.0.0.1:8000/ws", want: "http://127.0.0.1:8000/stats"},
		{in: "wss://relay.example.com/ws?x=1", want: "https://relay.example.com/stats"},
		{in: "http://localhost:8000", want: "http://localhost:8000/stats"},
		{in: "ftp://example.com/ws", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := statsURLFor(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestChatLoop_ExchangesLinesWithRelay(t *testing.T) {
	req := require.New(t)
	withoutColor(t)
	wsURL, sessions := startChat(t)

	// Given bob already in the chat
	bob, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.NoError(err)
	defer bob.Close()
	req.Equal(dispatch.UsernamePrompt, readLine(t, bob))
	req.NoError(bob.WriteMessage(websocket.TextMessage, []byte("bob")))
	req.Eventually(func() bool { return sessions.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// When ann joins through the CLI and types a line
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.NoError(err)
	defer conn.Close()

	stdinR, stdinW := io.Pipe()
	out := &syncBuffer{}
	loopErr := make(chan error, 1)
	go func() { loopErr <- chatLoop(context.Background(), conn, "", stdinR, out) }()

	req.Eventually(func() bool { return strings.Contains(out.String(), dispatch.UsernamePrompt) }, 2*time.Second, 10*time.Millisecond)
	_, err = io.WriteString(stdinW, "ann\n")
	req.NoError(err)
	req.Equal(chat.JoinNotice("ann").Text, readLine(t, bob))

	_, err = io.WriteString(stdinW, "hello bob\n")
	req.NoError(err)

	// Then bob sees it as a terminal line and ann sees bob's reply
	req.Equal("ann: hello bob", readLine(t, bob))
	req.NoError(bob.WriteMessage(websocket.TextMessage, []byte("hi ann")))
	req.Eventually(func() bool { return strings.Contains(out.String(), "bob: hi ann\n") }, 2*time.Second, 10*time.Millisecond)

	// And closing stdin leaves the chat cleanly
	req.NoError(stdinW.Close())
	select {
	case err := <-loopErr:
		req.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatalf("chat loop did not return after stdin closed")
	}
	req.Equal(chat.LeaveNotice("ann").Text, readLine(t, bob))
}

func TestChatLoop_UsernameFlagSkipsPrompt(t *testing.T) {
	req := require.New(t)
	withoutColor(t)
	wsURL, sessions := startChat(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.NoError(err)
	defer conn.Close()

	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	loopErr := make(chan error, 1)
	go func() { loopErr <- chatLoop(ctx, conn, "ann", stdinR, out) }()

	req.Eventually(func() bool {
		names := sessions.Usernames()
		return len(names) == 1 && names[0] == "ann"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-loopErr:
		req.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatalf("chat loop did not return after cancel")
	}
	req.NotContains(out.String(), dispatch.UsernamePrompt)
	req.Eventually(func() bool { return sessions.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRun_StatsPrintsTables(t *testing.T) {
	req := require.New(t)
	withoutColor(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" {
			http.NotFound(w, r)
			return
		}
		httpserver.WriteJSON(w, http.StatusOK, httpserver.StatsResponse{
			WebRTCRooms:        1,
			ActiveRooms:        []string{"lobby"},
			WebSocketUsers:     2,
			WebSocketUsersList: []string{"ann", "bob"},
			Process:            &httpserver.ProcessStats{PID: 42, Goroutines: 7, RSSBytes: 3 << 20, CPUPercent: 1.5},
		})
	}))
	t.Cleanup(ts.Close)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-stats", "-url", "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}, strings.NewReader(""), &stdout, &stderr)

	req.Equal(0, code, stderr.String())
	out := stdout.String()
	req.Contains(out, "WebRTC rooms: 1")
	req.Contains(out, "lobby")
	req.Contains(out, "Chat users: 2")
	req.Contains(out, "bob")
	req.Contains(out, "3.0")
}

func TestRun_StatsReportsHTTPFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(ts.Close)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-stats", "-url", ts.URL}, strings.NewReader(""), &stdout, &stderr)

	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "403")
}

func TestRun_RejectsBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 2, run(context.Background(), []string{"-nope"}, strings.NewReader(""), &stdout, &stderr))
	require.Equal(t, 2, run(context.Background(), []string{"extra"}, strings.NewReader(""), &stdout, &stderr))
}
