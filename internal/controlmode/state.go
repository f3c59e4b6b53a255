package controlmode

import (
	"log/slog"
	"sort"
	"strconv"

	"github.com/termdeck/termdeck/internal/model"
)

// Default caps for output buffered on behalf of panes that have not
// appeared in a layout yet (startup race between %output and the first
// %layout-change). Oldest chunks are dropped first; pane output is lossy
// tolerant once scrolled past.
const (
	defaultPendingChunks = 64
	defaultPendingBytes  = 256 * 1024
)

// outputSink receives decoded per-pane output and pane lifecycle events
// from the synchronizer. Calls happen on the read-loop goroutine and must
// not block.
type outputSink interface {
	paneOutput(paneID string, data []byte)
	paneClosed(paneID string)
}

type paneState struct {
	id         string
	windowID   string
	geo        model.PaneGeometry
	title      string
	path       string
	inCopyMode bool
	active     bool
}

type windowState struct {
	id     string
	name   string
	layout string
	active bool
	panes  map[string]*paneState
}

type pendingOutput struct {
	chunks [][]byte
	bytes  int
}

// sessionState is the live session → windows → panes tree. It is mutated
// only by the connection's read loop; external readers get deep-copied
// snapshots. The set of panes per window is reconciled exclusively from
// parsed layout strings, which keeps pane lifecycle logic in one place.
type sessionState struct {
	sessionID   string
	sessionName string
	closed      bool
	windows     map[string]*windowState
	pending     map[string]*pendingOutput

	pendingChunkCap int
	pendingByteCap  int

	sink   outputSink
	logger *slog.Logger
}

func newSessionState(sink outputSink, logger *slog.Logger) *sessionState {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &sessionState{
		windows:         make(map[string]*windowState),
		pending:         make(map[string]*pendingOutput),
		pendingChunkCap: defaultPendingChunks,
		pendingByteCap:  defaultPendingBytes,
		sink:            sink,
		logger:          logger,
	}
}

// apply folds one classified notification into the tree. Guard
// notifications (begin/end/error) never reach here; the connection routes
// them to the dispatcher.
func (st *sessionState) apply(n Notification) {
	if st.closed {
		return
	}
	switch n.Kind {
	case NoteSessionChanged:
		st.sessionID = n.SessionID
		st.sessionName = n.SessionName
	case NoteWindowAdd:
		if _, ok := st.windows[n.WindowID]; !ok {
			// Panes arrive with the layout-change tmux sends right after.
			st.windows[n.WindowID] = &windowState{id: n.WindowID, panes: make(map[string]*paneState)}
		}
	case NoteWindowClose:
		st.removeWindow(n.WindowID)
	case NoteWindowRenamed:
		if w, ok := st.windows[n.WindowID]; ok {
			w.name = n.WindowName
		}
	case NoteLayoutChange:
		st.applyLayout(n.WindowID, n.LayoutRaw)
	case NoteOutput:
		st.applyOutput(n.PaneID, DecodePercent(n.Payload))
	case NotePaneModeChanged:
		if p := st.findPane(n.PaneID); p != nil {
			p.inCopyMode = !p.inCopyMode
		}
	case NoteExit:
		st.markClosed()
	}
}

// applyLayout is the single reconciliation point for pane lifecycle:
// panes absent from the newly parsed layout are removed, new ids are
// created with the parsed geometry, and surviving panes get their
// geometry updated. Applying the same layout twice is a no-op.
func (st *sessionState) applyLayout(windowID, layoutRaw string) {
	parsed, err := ParseLayout(layoutRaw)
	if err != nil {
		st.logger.Warn("unparseable layout string, keeping previous geometry",
			"window", windowID, "layout", layoutRaw, "error", err)
		return
	}
	w, ok := st.windows[windowID]
	if !ok {
		w = &windowState{id: windowID, panes: make(map[string]*paneState)}
		st.windows[windowID] = w
	}
	w.layout = layoutRaw
	for id := range w.panes {
		if _, keep := parsed[id]; !keep {
			delete(w.panes, id)
			st.sink.paneClosed(id)
		}
	}
	for id, geo := range parsed {
		if p, ok := w.panes[id]; ok {
			p.geo = geo
			continue
		}
		w.panes[id] = &paneState{id: id, windowID: windowID, geo: geo}
		st.flushPending(id)
	}
}

func (st *sessionState) applyOutput(paneID string, data []byte) {
	if st.findPane(paneID) != nil {
		st.sink.paneOutput(paneID, data)
		return
	}
	st.bufferPending(paneID, data)
}

func (st *sessionState) bufferPending(paneID string, data []byte) {
	po := st.pending[paneID]
	if po == nil {
		po = &pendingOutput{}
		st.pending[paneID] = po
	}
	po.chunks = append(po.chunks, data)
	po.bytes += len(data)
	for len(po.chunks) > st.pendingChunkCap || po.bytes > st.pendingByteCap {
		po.bytes -= len(po.chunks[0])
		po.chunks = po.chunks[1:]
	}
}

func (st *sessionState) flushPending(paneID string) {
	po := st.pending[paneID]
	if po == nil {
		return
	}
	delete(st.pending, paneID)
	for _, chunk := range po.chunks {
		st.sink.paneOutput(paneID, chunk)
	}
}

func (st *sessionState) removeWindow(windowID string) {
	w, ok := st.windows[windowID]
	if !ok {
		return
	}
	delete(st.windows, windowID)
	for id := range w.panes {
		delete(st.pending, id)
		st.sink.paneClosed(id)
	}
}

// markClosed freezes the tree. It stays readable for a final GUI render
// but receives no further updates.
func (st *sessionState) markClosed() {
	st.closed = true
	st.pending = make(map[string]*pendingOutput)
}

func (st *sessionState) findPane(paneID string) *paneState {
	for _, w := range st.windows {
		if p, ok := w.panes[paneID]; ok {
			return p
		}
	}
	return nil
}

// PaneMetadata is one row of the list-panes metadata query. Responses
// update fields the layout string cannot carry: title, working directory,
// and active flags.
type PaneMetadata struct {
	PaneID       string
	WindowID     string
	WindowName   string
	Title        string
	Path         string
	Active       bool
	WindowActive bool
}

func (st *sessionState) applyPaneMetadata(rows []PaneMetadata) {
	if st.closed {
		return
	}
	for _, row := range rows {
		w, ok := st.windows[row.WindowID]
		if !ok {
			continue
		}
		if row.WindowName != "" {
			w.name = row.WindowName
		}
		w.active = row.WindowActive
		p, ok := w.panes[row.PaneID]
		if !ok {
			continue
		}
		p.title = row.Title
		p.path = row.Path
		p.active = row.Active
	}
}

// snapshot deep-copies the tree. Windows and panes are ordered by numeric
// id for a stable GUI layout.
func (st *sessionState) snapshot() model.SessionSnapshot {
	snap := model.SessionSnapshot{
		ID:     st.sessionID,
		Name:   st.sessionName,
		Closed: st.closed,
	}
	for _, w := range st.windows {
		ws := model.WindowSnapshot{
			ID:     w.id,
			Name:   w.name,
			Layout: w.layout,
			Active: w.active,
		}
		for _, p := range w.panes {
			ws.Panes = append(ws.Panes, model.PaneSnapshot{
				ID:         p.id,
				WindowID:   p.windowID,
				Geometry:   p.geo,
				Title:      p.title,
				Path:       p.path,
				InCopyMode: p.inCopyMode,
				Active:     p.active,
			})
		}
		sort.Slice(ws.Panes, func(i, j int) bool {
			return idLess(ws.Panes[i].ID, ws.Panes[j].ID)
		})
		snap.Windows = append(snap.Windows, ws)
	}
	sort.Slice(snap.Windows, func(i, j int) bool {
		return idLess(snap.Windows[i].ID, snap.Windows[j].ID)
	})
	return snap
}

// idLess orders tmux ids numerically, falling back to lexical order for
// anything non-numeric.
func idLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
