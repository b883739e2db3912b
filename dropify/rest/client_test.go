package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"
)

func newTestServer(t *testing.T, r chi.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateAndJoinSession(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"code": "ABC123"})
	})
	r.Post("/sessions/join", func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code != "ABC123" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Session not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"code": req.Code, "expires_at": "2030-01-01T00:00:00"})
	})
	c := newTestServer(t, r)
	ctx := context.Background()

	created, err := c.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.Code != "ABC123" {
		t.Fatalf("unexpected code: %s", created.Code)
	}

	joined, err := c.JoinSession(ctx, "ABC123")
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	if joined.ExpiresAt == nil || *joined.ExpiresAt != "2030-01-01T00:00:00" {
		t.Fatalf("unexpected join response: %+v", joined)
	}

	_, err = c.JoinSession(ctx, "WRONG1")
	if !IsNotFound(err) {
		t.Fatalf("expected 404 error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Session not found") {
		t.Fatalf("detail not surfaced: %v", err)
	}
}

func TestListDrops(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/sessions/{code}/drops", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "code") != "ABC123" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Session not found"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "type": "text", "content": "hi", "created_at": "t1", "expires_at": nil},
			{"id": 2, "type": "file", "path": "uploads/x.txt", "created_at": "t2"},
		})
	})
	c := newTestServer(t, r)

	drops, err := c.ListDrops(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("ListDrops: %v", err)
	}
	if len(drops) != 2 {
		t.Fatalf("expected 2 drops, got %d", len(drops))
	}
	if drops[0].Type != model.KindText || drops[0].Content != "hi" || drops[0].ExpiresAt != nil {
		t.Fatalf("unexpected first drop: %+v", drops[0])
	}
	if drops[1].Type != model.KindFile || drops[1].Path != "uploads/x.txt" {
		t.Fatalf("unexpected second drop: %+v", drops[1])
	}

	raw, err := c.ListDropsRaw(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("ListDropsRaw: %v", err)
	}
	if !json.Valid(raw) || raw[0] != '[' {
		t.Fatalf("unexpected raw body: %s", raw)
	}

	if _, err := c.ListDrops(context.Background(), "OTHER1"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListDropsRawRejectsInvalidJSON(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/sessions/{code}/drops", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops"))
	})
	c := newTestServer(t, r)

	if _, err := c.ListDropsRaw(context.Background(), "ABC123"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestListDropsRawRejectsEmptyBody(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/sessions/{code}/drops", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c := newTestServer(t, r)

	if _, err := c.ListDropsRaw(context.Background(), "ABC123"); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
}

func TestSendText(t *testing.T) {
	var got TextDropRequest
	r := chi.NewRouter()
	r.Post("/sessions/{code}/drops/text", func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, TextDropResponse{ID: 9, Type: got.DropType, Content: got.Content})
	})
	c := newTestServer(t, r)

	resp, err := c.SendText(context.Background(), "ABC123", TextDropRequest{Content: "hello"})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got.DropType != model.KindText || got.Content != "hello" {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if resp.ID != 9 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSendTextServerError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/sessions/{code}/drops/text", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	c := newTestServer(t, r)

	_, err := c.SendText(context.Background(), "ABC123", TextDropRequest{Content: "x", DropType: model.KindCode})
	var apiErr *APIError
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected api error with body, got %v", err)
	}
	if ok := asAPIError(err, &apiErr); !ok || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected error type: %v", err)
	}
}

func asAPIError(err error, target **APIError) bool {
	e, ok := err.(*APIError)
	if ok {
		*target = e
	}
	return ok
}

func TestUploadFile(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/sessions/{code}/drops/file", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "payload" || hdr.Filename != "x.txt" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad upload"})
			return
		}
		writeJSON(w, http.StatusOK, FileDropResponse{ID: 3, Path: "uploads/x.txt"})
	})
	c := newTestServer(t, r)

	resp, err := c.UploadFile(context.Background(), "ABC123", "x.txt", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if resp.Path != "uploads/x.txt" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestConsumeAndExpire(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/sessions/{code}/drops/{id}/consume", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ConsumeResponse{Consumed: chi.URLParam(r, "id") == "4"})
	})
	r.Delete("/sessions/{code}/expire", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ExpireResponse{Expired: true})
	})
	r.Get("/sessions/{code}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Session not found"})
	})
	c := newTestServer(t, r)
	ctx := context.Background()

	consumed, err := c.ConsumeDrop(ctx, "ABC123", 4)
	if err != nil || !consumed.Consumed {
		t.Fatalf("ConsumeDrop: %+v %v", consumed, err)
	}

	expired, err := c.ExpireSession(ctx, "ABC123")
	if err != nil || !expired.Expired {
		t.Fatalf("ExpireSession: %+v %v", expired, err)
	}

	if _, err := c.GetSession(ctx, "ABC123"); !IsNotFound(err) {
		t.Fatalf("expected 404 after expiry, got %v", err)
	}
}

func TestURLs(t *testing.T) {
	c := NewClient("https://api.example.com/")
	if got := c.QRCodeURL("ABC123"); got != "https://api.example.com/sessions/ABC123/qrcode" {
		t.Fatalf("unexpected qr url: %s", got)
	}
	if got := c.DownloadURL("uploads/x.txt"); got != "https://api.example.com/uploads/x.txt" {
		t.Fatalf("unexpected download url: %s", got)
	}
	if got := c.DownloadURL("/uploads/y.txt"); got != "https://api.example.com/uploads/y.txt" {
		t.Fatalf("unexpected download url: %s", got)
	}
}
