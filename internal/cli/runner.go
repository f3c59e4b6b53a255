package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"nhooyr.io/websocket"
)

// Runner is the termdeck CLI against a running daemon: one-shot JSON
// endpoints for listings, the WebSocket stream for tail and send.
type Runner struct {
	baseURL   string
	authToken string
	client    *http.Client
	out       io.Writer
	errOut    io.Writer
}

func NewRunner(baseURL, authToken string, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client:    &http.Client{},
		out:       out,
		errOut:    errOut,
	}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		r.printUsage()
		return 2
	}
	switch args[0] {
	case "sessions":
		return r.runSessions(ctx, args[1:])
	case "events":
		return r.runEvents(ctx, args[1:])
	case "health":
		return r.runHealth(ctx, args[1:])
	case "tail":
		return r.runTail(ctx, args[1:])
	case "send":
		return r.runSend(ctx, args[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", args[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) runSessions(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	body, err := r.request(ctx, http.MethodGet, "/v1/sessions", nil)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		_, _ = r.out.Write(body)
		_, _ = fmt.Fprintln(r.out)
		return 0
	}
	var env struct {
		Sessions []struct {
			Name     string `json:"name"`
			Windows  int    `json:"windows"`
			Attached bool   `json:"attached"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return r.handleErr(err)
	}
	attached := color.New(color.FgGreen).SprintFunc()
	for _, s := range env.Sessions {
		marker := ""
		if s.Attached {
			marker = attached(" (attached)")
		}
		_, _ = fmt.Fprintf(r.out, "%s\t%d windows%s\n", s.Name, s.Windows, marker)
	}
	return 0
}

func (r *Runner) runEvents(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	session := fs.String("session", "", "filter by session")
	kind := fs.String("kind", "", "filter by event kind")
	pane := fs.String("pane", "", "filter by pane id")
	limit := fs.Int("limit", 50, "max rows")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	query := url.Values{}
	if *session != "" {
		query.Set("session", *session)
	}
	if *kind != "" {
		query.Set("kind", *kind)
	}
	if *pane != "" {
		query.Set("pane", *pane)
	}
	query.Set("limit", strconv.Itoa(*limit))
	body, err := r.request(ctx, http.MethodGet, "/v1/events?"+query.Encode(), nil)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		_, _ = r.out.Write(body)
		_, _ = fmt.Fprintln(r.out)
		return 0
	}
	var env struct {
		Events []struct {
			Session    string `json:"Session"`
			Kind       string `json:"Kind"`
			WindowID   string `json:"WindowID"`
			PaneID     string `json:"PaneID"`
			Detail     string `json:"Detail"`
			RecordedAt string `json:"RecordedAt"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return r.handleErr(err)
	}
	kindColor := color.New(color.FgCyan).SprintFunc()
	for _, ev := range env.Events {
		loc := ev.Session
		if ev.WindowID != "" {
			loc += " @" + ev.WindowID
		}
		if ev.PaneID != "" {
			loc += " %" + ev.PaneID
		}
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\n", ev.RecordedAt, kindColor(ev.Kind), loc, ev.Detail)
	}
	return 0
}

func (r *Runner) runHealth(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	body, err := r.request(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = r.out.Write(body)
	if len(body) == 0 || body[len(body)-1] != '\n' {
		_, _ = fmt.Fprintln(r.out)
	}
	return 0
}

func (r *Runner) runTail(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	session := fs.String("session", "", "tmux session name")
	pane := fs.String("pane", "", "pane id, with or without % sigil")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if *session == "" || *pane == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: termdeck tail --session <name> --pane <id>")
		return 2
	}

	conn, err := r.dialStream(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

	if err := r.streamRequest(ctx, conn, streamMessage{ID: "1", Type: "attach", Session: *session}); err != nil {
		return r.handleErr(err)
	}
	sub, err := r.streamSubscribe(ctx, conn, *pane)
	if err != nil {
		return r.handleErr(err)
	}

	prefix := color.New(color.FgYellow).Sprintf("[%%%s] ", strings.TrimPrefix(*pane, "%"))
	for {
		msg, err := readStreamMessage(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return 0
			}
			return r.handleErr(err)
		}
		switch msg.Type {
		case "pane-output":
			if msg.SubID != sub {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(r.out, "%s%s\n", prefix, data)
		case "pane-closed":
			if msg.SubID == sub {
				_, _ = fmt.Fprintf(r.errOut, "pane %s closed\n", *pane)
				return 0
			}
		}
	}
}

func (r *Runner) runSend(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	session := fs.String("session", "", "tmux session name")
	pane := fs.String("pane", "", "pane id")
	text := fs.String("text", "", "literal text to type into the pane")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if *session == "" || *pane == "" || *text == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: termdeck send --session <name> --pane <id> --text <text>")
		return 2
	}

	conn, err := r.dialStream(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

	if err := r.streamRequest(ctx, conn, streamMessage{ID: "1", Type: "attach", Session: *session}); err != nil {
		return r.handleErr(err)
	}
	if err := r.streamRequest(ctx, conn, streamMessage{ID: "2", Type: "send-text", Pane: *pane, Text: *text}); err != nil {
		return r.handleErr(err)
	}
	return 0
}

// streamMessage mirrors the daemon's stream wire format, both
// directions.
type streamMessage struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	OK        *bool  `json:"ok,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Session   string `json:"session,omitempty"`
	Pane      string `json:"pane,omitempty"`
	Text      string `json:"text,omitempty"`
	SubID     string `json:"subscriptionId,omitempty"`
	Data      string `json:"data,omitempty"`
}

func (r *Runner) dialStream(ctx context.Context) (*websocket.Conn, error) {
	wsURL := strings.Replace(r.baseURL, "http", "ws", 1) + "/v1/stream"
	if r.authToken != "" {
		wsURL += "?token=" + url.QueryEscape(r.authToken)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return conn, nil
}

// streamRequest sends one request and waits for its reply by id.
func (r *Runner) streamRequest(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	for {
		reply, err := readStreamMessage(ctx, conn)
		if err != nil {
			return err
		}
		if reply.ID != msg.ID {
			continue
		}
		if reply.OK != nil && !*reply.OK {
			return fmt.Errorf("%s: %s", reply.ErrorCode, reply.Error)
		}
		return nil
	}
}

func (r *Runner) streamSubscribe(ctx context.Context, conn *websocket.Conn, pane string) (string, error) {
	data, err := json.Marshal(streamMessage{ID: "sub", Type: "subscribe-pane", Pane: pane})
	if err != nil {
		return "", err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return "", fmt.Errorf("write subscribe-pane: %w", err)
	}
	for {
		reply, err := readStreamMessage(ctx, conn)
		if err != nil {
			return "", err
		}
		if reply.ID != "sub" {
			continue
		}
		if reply.Type == "error" || (reply.OK != nil && !*reply.OK) {
			return "", fmt.Errorf("%s: %s", reply.ErrorCode, reply.Error)
		}
		return reply.SubID, nil
	}
}

func readStreamMessage(ctx context.Context, conn *websocket.Conn) (streamMessage, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return streamMessage{}, err
	}
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return streamMessage{}, fmt.Errorf("decode stream message: %w", err)
	}
	return msg, nil
}

func (r *Runner) request(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if unmarshalErr := json.Unmarshal(payload, &er); unmarshalErr == nil && er.Error != "" {
			return nil, fmt.Errorf("%s: %s", er.Error, er.Message)
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: termdeck [--addr <host:port>] [--token <token>] <sessions|events|health|tail|send> ...")
}
