package dropify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	gws "github.com/gorilla/websocket"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/rest"
)

// fakeBackend mimics the Dropify API: a drop list endpoint, a text drop
// endpoint that echoes NEW_DROP to every socket, and /ws/{code}.
type fakeBackend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader gws.Upgrader

	mu          sync.Mutex
	conns       map[*gws.Conn]bool
	accepts     int
	received    [][]byte
	fetches     int
	texts       int
	dropsStatus int
	dropsBody   string
	textStatus  int
	nextID      int64
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:           t,
		conns:       make(map[*gws.Conn]bool),
		dropsStatus: http.StatusOK,
		dropsBody:   "[]",
		textStatus:  http.StatusOK,
		nextID:      100,
	}

	r := chi.NewRouter()
	r.Get("/sessions/{code}/drops", b.handleDrops)
	r.Post("/sessions/{code}/drops/text", b.handleText)
	r.Post("/sessions/{code}/drops/file", b.handleFile)
	r.Post("/sessions/{code}/drops/{id}/consume", b.handleConsume)
	r.Get("/ws/{code}", b.handleWS)

	b.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		b.dropAll()
		b.srv.Close()
	})
	return b
}

func (b *fakeBackend) URL() string { return b.srv.URL }

func (b *fakeBackend) setDrops(status int, body string) {
	b.mu.Lock()
	b.dropsStatus, b.dropsBody = status, body
	b.mu.Unlock()
}

func (b *fakeBackend) setTextStatus(status int) {
	b.mu.Lock()
	b.textStatus = status
	b.mu.Unlock()
}

func (b *fakeBackend) handleDrops(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.fetches++
	status, body := b.dropsStatus, b.dropsBody
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (b *fakeBackend) handleText(w http.ResponseWriter, r *http.Request) {
	var req rest.TextDropRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	b.texts++
	status := b.textStatus
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"detail":"Content cannot be empty"}`))
		return
	}

	b.broadcast(map[string]any{
		"event":      "NEW_DROP",
		"id":         id,
		"type":       req.DropType,
		"content":    req.Content,
		"created_at": time.Now().UTC().Format("2006-01-02T15:04:05.000000"),
		"expires_at": nil,
	})
	_ = json.NewEncoder(w).Encode(rest.TextDropResponse{ID: id, Type: req.DropType, Content: req.Content})
}

func (b *fakeBackend) handleFile(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"detail":"missing file"}`, http.StatusBadRequest)
		return
	}
	file.Close()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	path := "uploads/" + header.Filename
	b.broadcast(map[string]any{
		"event":      "NEW_DROP",
		"id":         id,
		"type":       "file",
		"path":       path,
		"created_at": time.Now().UTC().Format("2006-01-02T15:04:05.000000"),
	})
	_ = json.NewEncoder(w).Encode(rest.FileDropResponse{ID: id, Path: path})
}

func (b *fakeBackend) handleConsume(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, `{"detail":"bad id"}`, http.StatusBadRequest)
		return
	}
	b.broadcast(map[string]any{"event": "DELETE_DROP", "id": id})
	_ = json.NewEncoder(w).Encode(rest.ConsumeResponse{Consumed: true})
}

func (b *fakeBackend) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns[conn] = true
	b.accepts++
	b.mu.Unlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		b.mu.Lock()
		b.received = append(b.received, msg)
		b.mu.Unlock()
	}

	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	conn.Close()
}

// broadcast writes v as JSON to every connected socket.
func (b *fakeBackend) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.t.Fatalf("marshal broadcast: %v", err)
	}
	b.broadcastRaw(data)
}

func (b *fakeBackend) broadcastRaw(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		_ = conn.WriteMessage(gws.TextMessage, data)
	}
}

// dropAll kills every socket without a close handshake.
func (b *fakeBackend) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		conn.UnderlyingConn().Close()
	}
}

func (b *fakeBackend) Accepts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accepts
}

func (b *fakeBackend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *fakeBackend) Fetches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

func (b *fakeBackend) Texts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.texts
}

func (b *fakeBackend) Received() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.received...)
}

func testConfig(backend string) Config {
	cfg := DefaultConfig()
	cfg.BackendURL = backend
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.HTTPTimeout = 2 * time.Second
	return cfg
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
