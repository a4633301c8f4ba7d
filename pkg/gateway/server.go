package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/companion/internal/observability"
	"github.com/harun/companion/internal/tracing"
	"github.com/harun/companion/pkg/mediator"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	// SecretHeader carries the shared secret on HTTP requests
	SecretHeader = "X-Companion-Secret"

	// OwnerHeader carries the caller identity, trusted once the secret checks out
	OwnerHeader = "X-Owner-Id"

	// TraceHeader optionally carries a caller-chosen trace id
	TraceHeader = "X-Trace-Id"

	// DefaultMaxBodyBytes leaves room for a base64 attachment at the codec ceiling
	DefaultMaxBodyBytes = 4 << 20
)

// Server is the gateway in front of the mediator
type Server struct {
	host           string
	port           int
	maxBodyBytes   int64
	allowedOrigins map[string]bool
	server         *http.Server
	listener       net.Listener
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	router         *RPCRouter
	authHandler    *AuthHandler
	chatParams     *ParamsValidator
	sessionParams  *ParamsValidator
	chat           ChatService
	sessions       SessionService
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	SharedSecret   string
	MaxBodyBytes   int64
	AllowedOrigins []string
	Chat           ChatService
	Sessions       SessionService
	Logger         zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	chatParams, err := NewParamsValidator(chatParamsSchema)
	if err != nil {
		return nil, err
	}
	sessionParams, err := NewParamsValidator(sessionParamsSchema)
	if err != nil {
		return nil, err
	}

	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[strings.TrimSpace(o)] = true
	}

	s := &Server{
		host:           cfg.Host,
		port:           cfg.Port,
		maxBodyBytes:   cfg.MaxBodyBytes,
		allowedOrigins: origins,
		clients:        NewClientRegistry(),
		router:         NewRPCRouter(),
		authHandler:    NewAuthHandler(cfg.SharedSecret),
		chatParams:     chatParams,
		sessionParams:  sessionParams,
		chat:           cfg.Chat,
		sessions:       cfg.Sessions,
		logger:         cfg.Logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	s.registerBuiltinMethods()

	return s, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.health())
	})
	return mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop waits for in-flight requests until ctx ends, then closes every
// connection and the listener
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.clients.CloseAll()

	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// UnregisterMethod unregisters an RPC method handler
func (s *Server) UnregisterMethod(name string) {
	s.router.UnregisterMethod(name)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.Snapshot(time.Now(), DefaultIdleAfter)
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// beginRequest registers an in-flight request unless Stop has begun.
// The check and the Add share the lock Stop takes to set the flag.
func (s *Server) beginRequest() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.isShuttingDown {
		return false
	}
	s.inFlightReqs.Add(1)
	return true
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	return s.allowedOrigins[r.Header.Get("Origin")]
}

// requestContext carries trace, request and owner ids into handlers
func (s *Server) requestContext(r *http.Request, requestID string) context.Context {
	traceID := r.Header.Get(TraceHeader)
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithTraceID(r.Context(), traceID)
	if requestID != "" {
		ctx = tracing.WithRequestID(ctx, requestID)
	}
	if owner := strings.TrimSpace(r.Header.Get(OwnerHeader)); owner != "" {
		ctx = tracing.WithOwnerID(ctx, owner)
	}
	return ctx
}

// handleRPC handles single-shot HTTP JSON-RPC requests
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.authHandler.VerifySecret(r.Header.Get(SecretHeader)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusRequestEntityTooLarge)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, RPCResponse{
			JSONRPC: "2.0",
			Error:   rpcErrorFrom(err),
		})
		return
	}

	if !s.beginRequest() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.inFlightReqs.Done()

	ctx := s.requestContext(r, req.ID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Str("method", req.Method).Msg("Gateway received HTTP RPC request")

	resp := s.router.RouteRequest(ctx, req)
	recordRPC(req.Method, resp)

	writeJSON(w, http.StatusOK, resp)
}

// handleChat is the REST form of agent.chat with HTTP status mapping
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.authHandler.VerifySecret(r.Header.Get(SecretHeader)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusRequestEntityTooLarge)
		return
	}

	if !s.beginRequest() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.inFlightReqs.Done()

	ctx := s.requestContext(r, "")
	result, err := s.handleAgentChat(ctx, body)
	if err != nil {
		rpcErr := rpcErrorFrom(err)
		observability.RecordGatewayRequest("rest.chat", strconv.Itoa(rpcErr.Code))
		writeJSON(w, httpStatus(rpcErr.Code), map[string]interface{}{
			"error": rpcErr.Message,
			"code":  rpcErr.Code,
		})
		return
	}

	observability.RecordGatewayRequest("rest.chat", "ok")
	writeJSON(w, http.StatusOK, result)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		http.Error(w, "owner identity required", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(s.maxBodyBytes)

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		_ = conn.Close()
		return
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		OwnerID:      owner,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		State:        StateConnecting,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("client_id", clientID).
		Str("owner_id", owner).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := s.sendAuthChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to send auth challenge")
		_ = conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

// sendAuthChallenge sends an authentication challenge to a client
func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	client.State = StateAuthenticating

	return client.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

// handleClient reads messages from a client until it disconnects
func (s *Server) handleClient(client *Client) {
	defer func() {
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("client_id", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.Touch(client.ID, time.Now())

		if !s.handleMessage(client, message) {
			return
		}
	}
}

// handleMessage handles a single frame and reports whether to keep reading
func (s *Server) handleMessage(client *Client, message []byte) bool {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		return s.handleAuthMessage(client, authResp)
	}

	if !client.Authenticated {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return true
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		rpcErr := rpcErrorFrom(err)
		s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		return true
	}

	if !s.beginRequest() {
		s.sendError(client, req.ID, ServerShuttingDown, "Server is shutting down")
		return true
	}

	go func() {
		defer s.inFlightReqs.Done()

		ctx := withClient(context.Background(), client)
		ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
		ctx = tracing.WithRequestID(ctx, req.ID)

		response := s.router.RouteRequest(ctx, req)
		recordRPC(req.Method, response)

		if err := client.WriteJSON(response); err != nil {
			s.logger.Error().
				Err(err).
				Str("client_id", clientIDFromContext(ctx)).
				Str("request_id", req.ID).
				Msg("Failed to send response")
		}
	}()

	return true
}

// handleAuthMessage handles authentication messages and reports whether the
// connection stays open
func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) bool {
	result := s.authHandler.HandleAuthResponse(client, authResp.Signature)

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("client_id", client.ID).Msg("Failed to send auth result")
		return false
	}

	if result.Success {
		s.logger.Info().Str("client_id", client.ID).Msg("Client authenticated")
		return true
	}

	s.logger.Warn().
		Str("client_id", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")

	return client.AuthAttempts < MaxAuthAttempts
}

// sendError sends an error response to a client
func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	response := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}

	if err := client.WriteJSON(response); err != nil {
		s.logger.Error().
			Err(err).
			Str("client_id", client.ID).
			Msg("Failed to send error response")
	}
}

func recordRPC(method string, resp *RPCResponse) {
	status := "ok"
	if resp.Error != nil {
		status = strconv.Itoa(resp.Error.Code)
	}
	observability.RecordGatewayRequest(method, status)
}

// httpStatus maps JSON-RPC error codes onto HTTP statuses for REST callers
func httpStatus(code int) int {
	switch code {
	case InvalidParams, InvalidRequest, ParseError:
		return http.StatusBadRequest
	case AuthenticationRequired:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case SessionNotFound:
		return http.StatusNotFound
	case UpstreamFailure:
		return http.StatusBadGateway
	case ServerShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ ChatService = (*mediator.Mediator)(nil)
