package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/termdeck/termdeck/internal/controlmode"
	"github.com/termdeck/termdeck/internal/model"
)

type clientMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Session   string `json:"session,omitempty"`
	Dir       string `json:"dir,omitempty"`
	Command   string `json:"command,omitempty"`
	Pane      string `json:"pane,omitempty"`
	Window    string `json:"window,omitempty"`
	Direction string `json:"direction,omitempty"`
	Cells     int    `json:"cells,omitempty"`
	Text      string `json:"text,omitempty"`
	SubID     string `json:"subscriptionId,omitempty"`
}

type serverMessage struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	OK        *bool         `json:"ok,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorCode string        `json:"errorCode,omitempty"`
	Sessions  []sessionJSON `json:"sessions,omitempty"`
	Snapshot  *snapshotJSON `json:"snapshot,omitempty"`
	SubID     string        `json:"subscriptionId,omitempty"`
	Pane      string        `json:"pane,omitempty"`
	Data      string        `json:"data,omitempty"`
}

type snapshotJSON struct {
	Session string       `json:"session"`
	Name    string       `json:"name,omitempty"`
	Closed  bool         `json:"closed"`
	Windows []windowJSON `json:"windows"`
}

type windowJSON struct {
	ID     string     `json:"id"`
	Name   string     `json:"name,omitempty"`
	Layout string     `json:"layout,omitempty"`
	Active bool       `json:"active"`
	Panes  []paneJSON `json:"panes"`
}

type paneJSON struct {
	ID         string `json:"id"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Title      string `json:"title,omitempty"`
	Path       string `json:"path,omitempty"`
	Active     bool   `json:"active"`
	InCopyMode bool   `json:"inCopyMode"`
}

type wsSub struct {
	id  string
	sub *controlmode.Subscription
}

// Client is one WebSocket consumer: at most one attached session, any
// number of pane subscriptions.
type Client struct {
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cm      *controlmode.Client
	subs    map[string]*wsSub
	nextSub int
}

func newWSClient(conn *websocket.Conn, server *Server) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:   conn,
		server: server,
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
		subs:   map[string]*wsSub{},
	}
}

func (c *Client) run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) close() {
	c.cancel()
}

func (c *Client) readPump() {
	defer c.cancel()
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			c.sendJSON(serverMessage{Type: "error", ErrorCode: model.ErrBadRequest, Error: "binary frames are not accepted"})
			continue
		}
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "") }()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.server.logger.Warn("marshal stream message failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.logger.Debug("dropping stream message for slow client")
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendJSON(serverMessage{Type: "error", ErrorCode: model.ErrBadRequest, Error: "invalid JSON"})
		return
	}

	switch msg.Type {
	case "attach":
		c.handleAttach(msg)
	case "list-sessions":
		c.handleListSessions(msg)
	case "snapshot":
		c.handleSnapshot(msg)
	case "subscribe-pane":
		c.handleSubscribePane(msg)
	case "unsubscribe":
		c.handleUnsubscribe(msg)
	case "split-pane", "select-pane", "resize-pane", "kill-pane", "kill-window", "send-text":
		c.handleCommand(msg)
	default:
		c.sendJSON(serverMessage{ID: msg.ID, Type: "error", ErrorCode: model.ErrBadRequest, Error: "unknown message type: " + msg.Type})
	}
}

func (c *Client) attached() (*controlmode.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cm == nil {
		return nil, false
	}
	return c.cm, true
}

func (c *Client) handleAttach(msg clientMessage) {
	if msg.Session == "" {
		c.fail(msg, "attach", model.ErrBadRequest, "session required")
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.server.cfg.ConnectTimeout)
	cm, err := c.server.manager.Attach(ctx, msg.Session, AttachOptions{Dir: msg.Dir, Command: msg.Command})
	cancel()
	if err != nil {
		c.fail(msg, "attach", model.ErrTmuxUnavailable, err.Error())
		return
	}
	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()
	c.ok(msg, "attach")
}

func (c *Client) handleListSessions(msg clientMessage) {
	ctx, cancel := context.WithTimeout(c.ctx, c.server.cfg.CommandTimeout)
	sessions, err := c.server.manager.ListSessions(ctx)
	cancel()
	if err != nil {
		c.fail(msg, "list-sessions", model.ErrTmuxUnavailable, err.Error())
		return
	}
	c.sendJSON(serverMessage{ID: msg.ID, Type: "list-sessions", Sessions: sessionInfoJSON(sessions)})
}

func (c *Client) handleSnapshot(msg clientMessage) {
	cm, ok := c.attached()
	if !ok {
		c.fail(msg, "snapshot", model.ErrSessionNotFound, "attach first")
		return
	}
	snap := cm.Snapshot()
	c.sendJSON(serverMessage{ID: msg.ID, Type: "snapshot", Snapshot: snapshotToJSON(cm.Session(), snap)})
}

func (c *Client) handleSubscribePane(msg clientMessage) {
	if msg.Pane == "" {
		c.fail(msg, "subscribe-pane", model.ErrBadRequest, "pane required")
		return
	}
	cm, ok := c.attached()
	if !ok {
		c.fail(msg, "subscribe-pane", model.ErrSessionNotFound, "attach first")
		return
	}
	sub := cm.Subscribe(msg.Pane)

	c.mu.Lock()
	c.nextSub++
	id := "sub-" + strconv.Itoa(c.nextSub)
	c.subs[id] = &wsSub{id: id, sub: sub}
	c.mu.Unlock()

	c.sendJSON(serverMessage{ID: msg.ID, Type: "subscribe-pane", SubID: id, Pane: sub.PaneID()})
	go c.streamOutput(id, sub)
}

func (c *Client) streamOutput(id string, sub *controlmode.Subscription) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data, ok := <-sub.Output():
			if !ok {
				c.sendJSON(serverMessage{Type: "pane-closed", SubID: id, Pane: sub.PaneID()})
				c.mu.Lock()
				delete(c.subs, id)
				c.mu.Unlock()
				return
			}
			c.sendJSON(serverMessage{
				Type:  "pane-output",
				SubID: id,
				Pane:  sub.PaneID(),
				Data:  base64.StdEncoding.EncodeToString(data),
			})
		}
	}
}

func (c *Client) handleUnsubscribe(msg clientMessage) {
	c.mu.Lock()
	ws, ok := c.subs[msg.SubID]
	if ok {
		delete(c.subs, msg.SubID)
	}
	c.mu.Unlock()
	if ok {
		ws.sub.Cancel()
	}
	c.ok(msg, "unsubscribe")
}

func (c *Client) handleCommand(msg clientMessage) {
	cm, ok := c.attached()
	if !ok {
		c.fail(msg, msg.Type, model.ErrSessionNotFound, "attach first")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.server.cfg.CommandTimeout)
		defer cancel()
		var err error
		switch msg.Type {
		case "split-pane":
			err = cm.SplitPane(ctx, msg.Pane, model.PaneDirection(msg.Direction))
		case "select-pane":
			err = cm.SelectPane(ctx, msg.Pane, model.PaneDirection(msg.Direction))
		case "resize-pane":
			err = cm.ResizePane(ctx, msg.Pane, model.PaneDirection(msg.Direction), msg.Cells)
		case "kill-pane":
			err = cm.KillPane(ctx, msg.Pane)
		case "kill-window":
			err = cm.KillWindow(ctx, msg.Window)
		case "send-text":
			err = cm.SendText(ctx, msg.Pane, msg.Text)
		}
		if err != nil {
			c.fail(msg, msg.Type, commandErrorCode(err), err.Error())
			return
		}
		c.ok(msg, msg.Type)
	}()
}

func (c *Client) ok(msg clientMessage, typ string) {
	ok := true
	c.sendJSON(serverMessage{ID: msg.ID, Type: typ, OK: &ok})
}

func (c *Client) fail(msg clientMessage, typ, code, detail string) {
	ok := false
	c.sendJSON(serverMessage{ID: msg.ID, Type: typ, OK: &ok, ErrorCode: code, Error: detail})
}

func (c *Client) cleanup() {
	c.cancel()
	c.mu.Lock()
	subs := c.subs
	c.subs = map[string]*wsSub{}
	c.mu.Unlock()
	for _, ws := range subs {
		ws.sub.Cancel()
	}
}

func commandErrorCode(err error) string {
	var cmdErr *controlmode.CommandError
	switch {
	case errors.As(err, &cmdErr):
		return model.ErrCommandFailed
	case errors.Is(err, controlmode.ErrDesync):
		return model.ErrProtocolDesync
	case errors.Is(err, controlmode.ErrClosed):
		return model.ErrConnectionClosed
	default:
		return model.ErrCommandFailed
	}
}

func snapshotToJSON(session string, snap model.SessionSnapshot) *snapshotJSON {
	out := &snapshotJSON{
		Session: session,
		Name:    snap.Name,
		Closed:  snap.Closed,
		Windows: make([]windowJSON, 0, len(snap.Windows)),
	}
	for _, w := range snap.Windows {
		wj := windowJSON{
			ID:     w.ID,
			Name:   w.Name,
			Layout: w.Layout,
			Active: w.Active,
			Panes:  make([]paneJSON, 0, len(w.Panes)),
		}
		for _, p := range w.Panes {
			wj.Panes = append(wj.Panes, paneJSON{
				ID:         p.ID,
				Width:      p.Geometry.Width,
				Height:     p.Geometry.Height,
				X:          p.Geometry.X,
				Y:          p.Geometry.Y,
				Title:      p.Title,
				Path:       p.Path,
				Active:     p.Active,
				InCopyMode: p.InCopyMode,
			})
		}
		out.Windows = append(out.Windows, wj)
	}
	return out
}
