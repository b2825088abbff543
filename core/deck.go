package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/internal/logx"
	"pkt.systems/sessiondeck/internal/persist"
	"pkt.systems/sessiondeck/schema"
)

// deck serializes every registry and tab mutation behind mu. Backend calls are
// always made with mu released so a slow backend never blocks other intents.
type deck struct {
	cfg     schema.DeckConfig
	backend Backend
	sink    TabSink
	store   *persist.Store
	logger  pslog.Logger

	persistMu sync.Mutex

	mu         sync.Mutex
	registry   *Registry
	tabs       *TabManager
	connecting map[schema.ServerID]struct{}
	bridges    map[schema.SessionID]map[*Bridge]struct{}
	sidebar    bool
	closed     bool
}

// NewDeck constructs the deck and restores persisted UI state when a store is configured.
func NewDeck(cfg schema.DeckConfig, deps DeckDeps) (Deck, error) {
	normalized, err := schema.NormalizeDeckConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	store := deps.Store
	if store == nil && cfg.StateDir != "" {
		store, err = persist.NewStoreWithLogger(cfg.StateDir, deps.Logger)
		if err != nil {
			return nil, err
		}
	}
	d := &deck{
		cfg:        cfg,
		backend:    deps.Backend,
		sink:       deps.TabSink,
		store:      store,
		logger:     logger,
		registry:   NewRegistry(),
		tabs:       NewTabManager(),
		connecting: make(map[schema.ServerID]struct{}),
		bridges:    make(map[schema.SessionID]map[*Bridge]struct{}),
		sidebar:    cfg.SidebarOpen,
	}
	d.restore()
	return d, nil
}

func (d *deck) Connect(ctx context.Context, req schema.ConnectRequest) (schema.ConnectResponse, error) {
	if ctx == nil {
		return schema.ConnectResponse{}, errors.New("missing context")
	}
	server := req.Server
	if strings.TrimSpace(string(server.ID)) == "" {
		return schema.ConnectResponse{}, fmt.Errorf("%w: server id is required", schema.ErrInvalidServer)
	}
	if err := schema.ValidateCredentials(req.Credentials); err != nil {
		return schema.ConnectResponse{}, err
	}
	log := logx.WithServer(ctx, server.ID)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return schema.ConnectResponse{}, schema.ErrDeckClosed
	}
	term, hasTerminal := d.tabs.TerminalFor(server.ID)
	if hasTerminal {
		if session, live := d.registry.Get(term.SessionID()); live && session.Connected {
			event := d.openTabLocked(term)
			d.mu.Unlock()
			d.emit([]schema.TabEvent{event})
			d.persist(log)
			log.Info("deck connect reused", "tab", term.ID(), "session", term.SessionID())
			return schema.ConnectResponse{
				Outcome:   schema.ConnectReused,
				SessionID: term.SessionID(),
				Tab:       event.Tab,
			}, nil
		}
	}
	if _, busy := d.connecting[server.ID]; busy {
		d.mu.Unlock()
		log.Info("deck connect pending")
		return schema.ConnectResponse{Outcome: schema.ConnectPending}, nil
	}
	if d.backend == nil {
		d.mu.Unlock()
		return schema.ConnectResponse{}, schema.ErrBackendUnavailable
	}
	var events []schema.TabEvent
	var stale schema.SessionID
	if hasTerminal {
		// The server's previous session has ended; replace its tab.
		stale = term.SessionID()
		d.registry.Remove(stale)
		if event, ok := d.closeTabLocked(term.ID()); ok {
			events = append(events, event)
		}
	}
	d.connecting[server.ID] = struct{}{}
	staleBridges := d.takeBridgesLocked(stale)
	d.mu.Unlock()
	detachBridges(staleBridges)
	d.emit(events)
	if stale != "" {
		d.persist(log)
		d.disconnectBackend(ctx, logx.WithSession(log, stale), stale)
	}

	log.Info("deck connect start", "name", server.DisplayName(), "password", req.Credentials.Password != "", "private_key", req.Credentials.PrivateKey != "")
	resp, err := d.backend.Connect(ctx, schema.BackendConnectRequest{
		ServerID:    server.ID,
		Credentials: req.Credentials,
	})

	d.mu.Lock()
	delete(d.connecting, server.ID)
	if err != nil {
		d.mu.Unlock()
		log.Warn("deck connect failed", "err", err)
		return schema.ConnectResponse{}, err
	}
	sessionID := resp.SessionID
	log = logx.WithSession(log, sessionID)
	if sessionID == "" {
		d.mu.Unlock()
		log.Warn("deck connect failed", "err", "empty session id")
		return schema.ConnectResponse{}, schema.NewBackendError(schema.BackendErrorSession, "backend returned no session id")
	}
	if d.closed {
		d.mu.Unlock()
		log.Info("deck connect discarded", "reason", "deck closed")
		d.disconnectBackend(logx.Detach(ctx), log, sessionID)
		return schema.ConnectResponse{}, schema.ErrDeckClosed
	}
	if err := d.registry.Put(Session{ID: sessionID, ServerID: server.ID, Connected: true}); err != nil {
		d.mu.Unlock()
		return schema.ConnectResponse{}, err
	}
	tab := NewTerminalTab(sessionID, server.ID, server.DisplayName())
	event := d.openTabLocked(tab)
	d.mu.Unlock()
	d.emit([]schema.TabEvent{event})
	d.persist(log)
	log.Info("deck connect ok", "tab", tab.ID())
	return schema.ConnectResponse{
		Outcome:   schema.ConnectOpened,
		SessionID: sessionID,
		Tab:       event.Tab,
	}, nil
}

func (d *deck) Disconnect(ctx context.Context, sessionID schema.SessionID) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logx.WithSession(pslog.Ctx(ctx), sessionID)

	d.mu.Lock()
	var events []schema.TabEvent
	if _, known := d.registry.Get(sessionID); known {
		d.registry.Remove(sessionID)
		if event, ok := d.closeTabLocked(TerminalTabID(sessionID)); ok {
			events = append(events, event)
		}
	}
	bridges := d.takeBridgesLocked(sessionID)
	d.mu.Unlock()
	detachBridges(bridges)
	d.emit(events)
	if len(events) > 0 {
		d.persist(log)
	}
	d.disconnectBackend(ctx, log, sessionID)
}

func (d *deck) AttachTerminal(ctx context.Context, sessionID schema.SessionID, sink io.Writer, onDisconnect func()) (*Bridge, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required", schema.ErrInvalidRequest)
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, schema.ErrDeckClosed
	}
	session, ok := d.registry.Get(sessionID)
	if !ok {
		d.mu.Unlock()
		return nil, schema.ErrSessionNotFound
	}
	if !session.Connected {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s has ended", schema.ErrSessionNotFound, sessionID)
	}
	if d.backend == nil {
		d.mu.Unlock()
		return nil, schema.ErrBackendUnavailable
	}
	log := logx.WithServerSession(ctx, session.ServerID, sessionID)
	bridge := newBridge(logx.ContextWithSessionLogger(ctx, log, session.ServerID, sessionID), bridgeConfig{
		deck:         d,
		sessionID:    sessionID,
		sub:          d.backend.Subscribe(sessionID),
		backend:      d.backend,
		sink:         sink,
		notice:       d.cfg.ClosedNotice,
		onDisconnect: onDisconnect,
		log:          log,
	})
	set := d.bridges[sessionID]
	if set == nil {
		set = make(map[*Bridge]struct{})
		d.bridges[sessionID] = set
	}
	set[bridge] = struct{}{}
	d.mu.Unlock()
	bridge.start()
	log.Debug("deck terminal attached")
	return bridge, nil
}

func (d *deck) OpenTab(ctx context.Context, tab Tab) (schema.TabSnapshot, error) {
	if tab == nil || tab.ID() == "" {
		return schema.TabSnapshot{}, schema.ErrInvalidTab
	}
	log := logx.WithTab(pslog.Ctx(ctx), tab.ID())
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return schema.TabSnapshot{}, schema.ErrDeckClosed
	}
	if term, ok := tab.(TerminalTab); ok {
		session, live := d.registry.Get(term.SessionID())
		if !live || session.ServerID != term.ServerID() {
			d.mu.Unlock()
			return schema.TabSnapshot{}, fmt.Errorf("%w: terminal tab needs a registered session", schema.ErrInvalidTab)
		}
	}
	event := d.openTabLocked(tab)
	d.mu.Unlock()
	d.emit([]schema.TabEvent{event})
	d.persist(log)
	log.Info("deck tab opened", "kind", tab.Kind(), "reused", event.Type != schema.TabEventOpened)
	return event.Tab, nil
}

func (d *deck) CloseTab(ctx context.Context, id schema.TabID) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logx.WithTab(pslog.Ctx(ctx), id)
	d.mu.Lock()
	tab, ok := d.tabs.Get(id)
	if !ok {
		d.mu.Unlock()
		log.Debug("deck tab close miss")
		return false
	}
	var sessionID schema.SessionID
	if term, ok := tab.(TerminalTab); ok {
		sessionID = term.SessionID()
		d.registry.Remove(sessionID)
	}
	event, _ := d.closeTabLocked(id)
	bridges := d.takeBridgesLocked(sessionID)
	d.mu.Unlock()
	detachBridges(bridges)
	d.emit([]schema.TabEvent{event})
	d.persist(log)
	if sessionID != "" {
		d.disconnectBackend(ctx, logx.WithSession(log, sessionID), sessionID)
	}
	log.Info("deck tab closed", "active", event.ActiveTab)
	return true
}

func (d *deck) ActivateTab(ctx context.Context, id schema.TabID) bool {
	log := logx.WithTab(pslog.Ctx(ctx), id)
	d.mu.Lock()
	if !d.tabs.Activate(id) {
		d.mu.Unlock()
		log.Debug("deck tab activate miss")
		return false
	}
	tab, _ := d.tabs.Get(id)
	event := schema.TabEvent{Type: schema.TabEventActivated, Tab: tab.Snapshot(true), ActiveTab: id}
	d.mu.Unlock()
	d.emit([]schema.TabEvent{event})
	d.persist(log)
	log.Trace("deck tab activated")
	return true
}

func (d *deck) ListTabs() []schema.TabSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tabs.Snapshots()
}

func (d *deck) ActiveTabID() schema.TabID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tabs.Active()
}

func (d *deck) SetSidebarOpen(ctx context.Context, open bool) {
	d.mu.Lock()
	changed := d.sidebar != open
	d.sidebar = open
	d.mu.Unlock()
	if changed {
		d.persist(pslog.Ctx(ctx))
	}
}

func (d *deck) State() schema.StateSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	sessions := d.registry.List()
	snap := schema.StateSnapshot{
		Tabs:        d.tabs.Snapshots(),
		ActiveTab:   d.tabs.Active(),
		Sessions:    make([]schema.SessionSnapshot, 0, len(sessions)),
		SidebarOpen: d.sidebar,
	}
	for _, session := range sessions {
		snap.Sessions = append(snap.Sessions, session.Snapshot())
	}
	for serverID := range d.connecting {
		snap.Connecting = append(snap.Connecting, serverID)
	}
	return snap
}

// Close detaches every bridge and disconnects live sessions. Connects still in
// flight are discarded when they resolve.
func (d *deck) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := pslog.Ctx(ctx)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var live []schema.SessionID
	for _, session := range d.registry.List() {
		if session.Connected {
			live = append(live, session.ID)
		}
	}
	var bridges []*Bridge
	for sessionID := range d.bridges {
		bridges = append(bridges, d.takeBridgesLocked(sessionID)...)
	}
	d.mu.Unlock()
	detachBridges(bridges)
	for _, sessionID := range live {
		d.disconnectBackend(ctx, logx.WithSession(log, sessionID), sessionID)
	}
	d.persist(log)
	log.Info("deck closed", "sessions", len(live))
	return nil
}

// sessionEnded records an EOF observed by a bridge. The tab stays open so the
// closed notice remains visible until the user closes it.
func (d *deck) sessionEnded(log pslog.Logger, sessionID schema.SessionID) {
	d.mu.Lock()
	changed := d.registry.MarkDisconnected(sessionID)
	d.mu.Unlock()
	if changed {
		log.Info("deck session ended")
	}
}

func (d *deck) forgetBridge(b *Bridge) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set := d.bridges[b.sessionID]; set != nil {
		delete(set, b)
		if len(set) == 0 {
			delete(d.bridges, b.sessionID)
		}
	}
}

func (d *deck) takeBridgesLocked(sessionID schema.SessionID) []*Bridge {
	if sessionID == "" {
		return nil
	}
	set := d.bridges[sessionID]
	delete(d.bridges, sessionID)
	out := make([]*Bridge, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	return out
}

func detachBridges(bridges []*Bridge) {
	for _, b := range bridges {
		b.Detach()
	}
}

func (d *deck) openTabLocked(tab Tab) schema.TabEvent {
	current, appended := d.tabs.Open(tab)
	eventType := schema.TabEventActivated
	if appended {
		eventType = schema.TabEventOpened
	}
	return schema.TabEvent{
		Type:      eventType,
		Tab:       current.Snapshot(true),
		ActiveTab: d.tabs.Active(),
	}
}

func (d *deck) closeTabLocked(id schema.TabID) (schema.TabEvent, bool) {
	tab, ok := d.tabs.Close(id)
	if !ok {
		return schema.TabEvent{}, false
	}
	return schema.TabEvent{
		Type:      schema.TabEventClosed,
		Tab:       tab.Snapshot(false),
		ActiveTab: d.tabs.Active(),
	}, true
}

func (d *deck) disconnectBackend(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) {
	if d.backend == nil || sessionID == "" {
		return
	}
	if err := d.backend.Disconnect(ctx, sessionID); err != nil {
		log.Warn("deck disconnect failed", "err", err)
		return
	}
	log.Debug("deck disconnect ok")
}

func (d *deck) emit(events []schema.TabEvent) {
	if d.sink == nil {
		return
	}
	for _, event := range events {
		d.sink.OnTabEvent(event)
	}
}

func (d *deck) persist(log pslog.Logger) {
	if d.store == nil {
		return
	}
	d.persistMu.Lock()
	defer d.persistMu.Unlock()
	snapshot := d.uiSnapshot()
	if err := d.store.Save(d.cfg.Profile, snapshot); err != nil {
		if log != nil {
			log.Warn("deck persist failed", "err", err)
		}
		return
	}
	if log != nil {
		log.Trace("deck state persisted", "tabs", len(snapshot.Tabs))
	}
}

func (d *deck) uiSnapshot() persist.UISnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := persist.UISnapshot{SidebarOpen: d.sidebar}
	active := d.tabs.Active()
	for _, tab := range d.tabs.List() {
		if tab.Kind() == schema.TabKindTerminal {
			continue
		}
		snap.Tabs = append(snap.Tabs, tab.Snapshot(false))
		if tab.ID() == active {
			snap.ActiveTab = active
		}
	}
	return snap
}

func (d *deck) restore() {
	if d.store == nil {
		return
	}
	log := d.logger.With("profile", d.cfg.Profile)
	snapshot, ok, err := d.store.Load(d.cfg.Profile)
	if err != nil {
		log.Warn("deck state load failed", "err", err)
		return
	}
	if !ok {
		log.Debug("deck state missing")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sidebar = snapshot.SidebarOpen
	for _, snap := range snapshot.Tabs {
		tab, err := TabFromSnapshot(snap)
		if err != nil {
			log.Debug("deck state tab skipped", "tab", snap.ID, "err", err)
			continue
		}
		d.tabs.Open(tab)
	}
	if !d.tabs.Activate(snapshot.ActiveTab) {
		d.tabs.ClearActive()
	}
	log.Debug("deck state loaded", "tabs", d.tabs.Len(), "active", d.tabs.Active())
}
