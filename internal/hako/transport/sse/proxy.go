// Package sse serves a stream-piped MCP server over HTTP with Server-Sent
// Events: clients subscribe on /sse, are told their message endpoint, and
// POST JSON-RPC messages to /messages?session_id=<id>.
package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Hako/internal/hako/transport/jsonrpc"
)

// HTTP endpoints served by the proxy.
const (
	EventsPath   = "/sse"
	MessagesPath = "/messages"
	HealthPath   = "/health"
)

const (
	clientBuffer   = 100
	incomingBuffer = 100
	maxPending     = 1000
	maxBodyBytes   = 4 << 20
)

// Proxy bridges SSE clients to a single upstream message stream.
type Proxy struct {
	name     string
	log      *slog.Logger
	incoming chan []byte

	mu      sync.Mutex
	clients map[string]chan string
	pending []string
	closed  bool

	server   *http.Server
	listener net.Listener
}

// New returns a proxy for the server called name. A nil logger uses the
// default logger.
func New(name string, log *slog.Logger) *Proxy {
	if log == nil {
		log = slog.Default()
	}
	return &Proxy{
		name:     name,
		log:      log.With("server", name),
		incoming: make(chan []byte, incomingBuffer),
		clients:  make(map[string]chan string),
	}
}

// Handler returns the proxy's HTTP routes.
func (p *Proxy) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(EventsPath, p.handleEvents)
	mux.HandleFunc(MessagesPath, p.handleMessage)
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "OK")
	})
	return mux
}

// Listen binds addr (host:port; port 0 picks a free one) and serves in the
// background until Shutdown.
func (p *Proxy) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	p.listener = ln
	p.server = &http.Server{
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("sse proxy stopped", "err", err)
		}
	}()
	p.log.Info("sse proxy listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (p *Proxy) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Incoming yields client messages in arrival order, one encoded JSON-RPC
// message per element.
func (p *Proxy) Incoming() <-chan []byte {
	return p.incoming
}

// Broadcast sends data to every connected client as a "message" event. With
// no client connected the event is queued and delivered to the next client
// that subscribes. Clients that cannot keep up are disconnected.
func (p *Proxy) Broadcast(data []byte) {
	event := formatEvent("message", string(data))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if len(p.clients) == 0 {
		if len(p.pending) >= maxPending {
			p.pending = p.pending[1:]
		}
		p.pending = append(p.pending, event)
		return
	}
	for id, ch := range p.clients {
		select {
		case ch <- event:
		default:
			delete(p.clients, id)
			close(ch)
			p.log.Warn("sse client too slow, disconnected", "session", id)
		}
	}
}

// Clients returns the number of connected clients.
func (p *Proxy) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Shutdown disconnects all clients and stops the HTTP server.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for id, ch := range p.clients {
		delete(p.clients, id)
		close(ch)
	}
	p.mu.Unlock()

	if p.server == nil {
		return nil
	}
	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown sse proxy: %w", err)
	}
	return nil
}

func (p *Proxy) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	ch := make(chan string, clientBuffer)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	p.clients[id] = ch
	backlog := p.pending
	p.pending = nil
	p.mu.Unlock()

	defer p.drop(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	io.WriteString(w, formatEvent("endpoint", endpointURL(r, id)))
	for _, event := range backlog {
		io.WriteString(w, event)
	}
	flusher.Flush()
	p.log.Debug("sse client connected", "session", id, "backlog", len(backlog))

	for {
		select {
		case <-r.Context().Done():
			p.log.Debug("sse client disconnected", "session", id)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := io.WriteString(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// drop unregisters a client if it is still registered.
func (p *Proxy) drop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.clients[id]; ok {
		delete(p.clients, id)
		close(ch)
	}
}

func (p *Proxy) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("session_id")
	if id == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	_, exists := p.clients[id]
	p.mu.Unlock()
	if !exists {
		http.Error(w, "could not find session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}
	msg, err := jsonrpc.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := msg.Encode()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	select {
	case p.incoming <- data:
	default:
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	io.WriteString(w, "Accepted")
}

func endpointURL(r *http.Request, session string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s%s?session_id=%s", scheme, r.Host, MessagesPath, session)
}

// formatEvent renders one SSE event. Multi-line data is split across data
// fields.
func formatEvent(name, data string) string {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
