// Package realtime connects the browser shell to the coordinator. It
// implements the navigation ViewPort and History on top of WebSocket
// broadcasts and exposes a small REST surface.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Mukhsinh/manajemenresiko-sub005/internal/identity"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/navigation"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/protocol"
	"github.com/Mukhsinh/manajemenresiko-sub005/internal/readiness"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBufSize   = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Navigator is the part of the navigation coordinator the server drives.
type Navigator interface {
	Navigate(pageID string)
	Refresh()
	State() navigation.State
}

// Readiness is the part of the readiness gate the server exposes.
type Readiness interface {
	WaitUntilReady(ctx context.Context, timeout time.Duration) bool
	Status() readiness.Status
	Principal() *identity.Principal
}

// Authenticator is the identity provider's sign-in surface.
type Authenticator interface {
	SignIn(principalID, displayName string) (*identity.Session, error)
	SignOut()
	Events() []identity.Event
}

// Server manages WebSocket connections of the application shell and routes
// messages between clients, the navigation coordinator and the readiness gate.
type Server struct {
	gate      Readiness
	auth      Authenticator
	logger    *zap.Logger
	staticDir string
	metrics   http.Handler

	defaultWait time.Duration

	navMu sync.RWMutex
	nav   Navigator

	clients   map[*client]bool
	clientsMu sync.RWMutex

	// view state replayed to clients that connect later
	viewMu    sync.RWMutex
	location  string
	shown     *navigation.PageHandle
	menu      *navigation.PageHandle
	listeners map[string]func(string)
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	closeOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStaticDir serves the shell's static files from dir.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithInitialLocation sets the location reported before any client has
// navigated.
func WithInitialLocation(path string) Option {
	return func(s *Server) {
		s.location = path
	}
}

// WithDefaultWait sets the timeout used by GET /ready when none is given.
func WithDefaultWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.defaultWait = d
		}
	}
}

// New creates a new realtime server.
func New(gate Readiness, auth Authenticator, opts ...Option) *Server {
	s := &Server{
		gate:        gate,
		auth:        auth,
		logger:      zap.NewNop(),
		defaultWait: 5 * time.Second,
		clients:     make(map[*client]bool),
		location:    "/",
		listeners:   make(map[string]func(string)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNavigator attaches the coordinator. The coordinator itself depends on
// the server as its ViewPort and History, so it is attached after both exist.
func (s *Server) SetNavigator(nav Navigator) {
	s.navMu.Lock()
	s.nav = nav
	s.navMu.Unlock()
}

func (s *Server) navigator() Navigator {
	s.navMu.RLock()
	defer s.navMu.RUnlock()
	return s.nav
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /navigate", s.handleNavigate)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("POST /auth/signin", s.handleSignIn)
	mux.HandleFunc("POST /auth/signout", s.handleSignOut)
	mux.HandleFunc("GET /auth/events", s.handleAuthEvents)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	s.logger.Debug("shell connected", zap.String("client", c.id))

	// Bring the new client up to the current view.
	s.sendSnapshot(c)

	go c.writePump()
	go c.readPump()
}

// sendSnapshot replays navigation state, visible page and menu to a client.
func (s *Server) sendSnapshot(c *client) {
	s.sendTo(c, protocol.TypeNavState, s.statePayload())

	s.viewMu.RLock()
	shown, menu := s.shown, s.menu
	s.viewMu.RUnlock()

	if shown != nil {
		s.sendTo(c, protocol.TypeViewShow, protocol.ViewPayload{Page: shown.ID, Container: shown.Container})
	}
	if menu != nil {
		s.sendTo(c, protocol.TypeViewMenu, protocol.MenuPayload{Page: menu.ID, Title: menu.Title, Icon: menu.Icon})
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
	s.logger.Debug("shell disconnected", zap.String("client", c.id))
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeNavigate:
		var payload protocol.NavigatePayload
		json.Unmarshal(msg.Payload, &payload)
		s.navigate(c, payload.Page)

	case protocol.TypeRefresh:
		if nav := s.navigator(); nav != nil {
			nav.Refresh()
		} else {
			s.sendError(c, protocol.ErrInternal, "navigation not ready")
		}

	case protocol.TypePopState:
		var payload protocol.PopStatePayload
		json.Unmarshal(msg.Payload, &payload)
		s.popState(payload.Path)

	case protocol.TypeAuthWait:
		var payload protocol.AuthWaitPayload
		json.Unmarshal(msg.Payload, &payload)
		go s.waitForClient(c, payload)
	}
}

func (s *Server) navigate(c *client, pageID string) {
	nav := s.navigator()
	if nav == nil {
		s.sendError(c, protocol.ErrInternal, "navigation not ready")
		return
	}
	nav.Navigate(pageID)
}

// waitForClient answers an auth.wait request once the gate resolves or the
// requested timeout elapses.
func (s *Server) waitForClient(c *client, payload protocol.AuthWaitPayload) {
	timeout := time.Duration(payload.TimeoutMs) * time.Millisecond
	ready := s.gate.WaitUntilReady(context.Background(), timeout)
	s.sendTo(c, protocol.TypeAuthReady, protocol.AuthReadyPayload{
		RequestID: payload.RequestID,
		Ready:     ready,
	})
}

// popState records a back/forward location change reported by the shell and
// forwards it to history listeners.
func (s *Server) popState(path string) {
	s.viewMu.Lock()
	s.location = path
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.viewMu.Unlock()

	for _, fn := range fns {
		fn(path)
	}
}

// Show implements navigation.ViewPort.
func (s *Server) Show(page navigation.PageHandle) error {
	s.viewMu.Lock()
	s.shown = &page
	s.viewMu.Unlock()
	return s.Notify(protocol.TypeViewShow, protocol.ViewPayload{Page: page.ID, Container: page.Container})
}

// Hide implements navigation.ViewPort.
func (s *Server) Hide(page navigation.PageHandle) error {
	return s.Notify(protocol.TypeViewHide, protocol.ViewPayload{Page: page.ID, Container: page.Container})
}

// Highlight implements navigation.ViewPort.
func (s *Server) Highlight(page navigation.PageHandle) error {
	s.viewMu.Lock()
	s.menu = &page
	s.viewMu.Unlock()
	return s.Notify(protocol.TypeViewMenu, protocol.MenuPayload{Page: page.ID, Title: page.Title, Icon: page.Icon})
}

// Location implements navigation.History.
func (s *Server) Location() string {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.location
}

// Push implements navigation.History.
func (s *Server) Push(path string) error {
	s.viewMu.Lock()
	s.location = path
	s.viewMu.Unlock()
	return s.Notify(protocol.TypeViewLocation, protocol.LocationPayload{Path: path})
}

// Listen implements navigation.History.
func (s *Server) Listen(fn func(path string)) func() {
	id := uuid.New().String()

	s.viewMu.Lock()
	s.listeners[id] = fn
	s.viewMu.Unlock()

	return func() {
		s.viewMu.Lock()
		delete(s.listeners, id)
		s.viewMu.Unlock()
	}
}

// OnNavigated broadcasts a completed transition. Register it with the
// coordinator's Subscribe.
func (s *Server) OnNavigated(ev navigation.Navigated) {
	s.Notify(protocol.TypeNavigated, protocol.NavigatedPayload{
		Page:         ev.Page,
		PreviousPage: ev.PreviousPage,
	})
}

// OnAuthStatus broadcasts a readiness change. Register it with the gate's Watch.
func (s *Server) OnAuthStatus(status readiness.Status, principal *identity.Principal) {
	s.Notify(protocol.TypeAuthStatus, protocol.AuthStatusPayload{
		Status:    string(status),
		Principal: toPrincipalPayload(principal),
	})
}

// Notify broadcasts a message to every connected shell.
func (s *Server) Notify(msgType string, payload interface{}) error {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	s.broadcast(msg)
	return nil
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

func (s *Server) sendTo(c *client, msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)

	// The client may have disconnected while a wait was pending.
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	if !s.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) sendError(c *client, code, message string) {
	s.sendTo(c, protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}

func (s *Server) statePayload() protocol.NavStatePayload {
	payload := protocol.NavStatePayload{
		Location:   s.Location(),
		AuthStatus: string(s.gate.Status()),
		Principal:  toPrincipalPayload(s.gate.Principal()),
	}
	if nav := s.navigator(); nav != nil {
		st := nav.State()
		payload.Current = st.Current
		payload.Previous = st.Previous
	}
	return payload
}

// Shutdown closes every client connection.
func (s *Server) Shutdown() {
	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func toPrincipalPayload(p *identity.Principal) *protocol.Principal {
	if p == nil {
		return nil
	}
	return &protocol.Principal{ID: p.ID, DisplayName: p.DisplayName}
}
