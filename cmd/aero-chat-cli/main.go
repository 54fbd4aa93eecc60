// Command aero-chat-cli is a line-oriented terminal client for the /ws chat
// relay. With -stats it prints the relay's /stats snapshot instead.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/chat"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/dispatch"
)

const defaultURL = "ws://127.0.0.1:8000/ws"

type options struct {
	url      string
	username string
	stats    bool
	noColor  bool
	timeout  time.Duration
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("aero-chat-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.url, "url", defaultURL, "Chat WebSocket URL")
	fs.StringVar(&opts.username, "username", "", "Answer the username prompt automatically")
	fs.BoolVar(&opts.stats, "stats", false, "Print the relay's /stats snapshot and exit")
	fs.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Dial and HTTP timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if opts.noColor {
		color.Disable()
	}

	if opts.stats {
		statsURL, err := statsURLFor(opts.url)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		stats, err := fetchStats(ctx, &http.Client{Timeout: opts.timeout}, statsURL)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		printStats(stdout, stats)
		return 0
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = opts.timeout
	conn, _, err := dialer.DialContext(ctx, opts.url, nil)
	if err != nil {
		fmt.Fprintf(stderr, "dial %s: %v\n", opts.url, err)
		return 1
	}
	defer conn.Close()

	if err := chatLoop(ctx, conn, opts.username, stdin, stdout); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// chatLoop prints every line the relay sends and forwards stdin lines until
// stdin ends, the relay closes, or ctx is cancelled. A non-empty username is
// sent before any stdin line and the prompt is not echoed.
func chatLoop(ctx context.Context, conn *websocket.Conn, username string, in io.Reader, out io.Writer) error {
	if username != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(username)); err != nil {
			return fmt.Errorf("send username: %w", err)
		}
	}

	recvErr := make(chan error, 1)
	go func() {
		skipPrompt := username != ""
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				recvErr <- err
				return
			}
			line := string(data)
			if skipPrompt && line == dispatch.UsernamePrompt {
				skipPrompt = false
				continue
			}
			fmt.Fprintln(out, renderLine(line))
		}
	}()

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return closeAndWait(conn, recvErr)
		case err := <-recvErr:
			return readLoopErr(err)
		case line, ok := <-lines:
			if !ok {
				return closeAndWait(conn, recvErr)
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func closeAndWait(conn *websocket.Conn, recvErr <-chan error) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		return nil
	}
	select {
	case err := <-recvErr:
		return readLoopErr(err)
	case <-time.After(2 * time.Second):
		return nil
	}
}

func readLoopErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("relay closed the connection: %d %s", ce.Code, ce.Text)
	}
	return fmt.Errorf("receive: %w", err)
}

var (
	promptStyle = color.New(color.FgCyan, color.OpBold)
	joinStyle   = color.New(color.FgGreen)
	leaveStyle  = color.New(color.FgYellow)
	userStyle   = color.New(color.FgMagenta, color.OpBold)
)

// renderLine highlights relay notices and the sender of chat lines.
func renderLine(line string) string {
	switch {
	case line == dispatch.UsernamePrompt:
		return promptStyle.Render(line)
	case strings.HasPrefix(line, chat.JoinMarker):
		return joinStyle.Render(line)
	case strings.HasPrefix(line, chat.LeaveMarker):
		return leaveStyle.Render(line)
	}
	if user, text, ok := strings.Cut(line, ": "); ok {
		return userStyle.Render(user) + ": " + text
	}
	return line
}

// statsURLFor maps the chat WebSocket URL onto the relay's /stats endpoint.
func statsURLFor(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid -url %q: %w", wsURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid -url %q: unsupported scheme %q", wsURL, u.Scheme)
	}
	u.Path = "/stats"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
