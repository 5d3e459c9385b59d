package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

func TestWebSocketDialer_RoundTripAndCloseCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		_ = c.Write(ctx, websocket.MessageText, data)
		_ = c.Close(websocket.StatusNormalClosure, "done")
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	d := WebSocketDialer{ReadLimit: 1 << 16}
	conn, err := d.Dial(ctx, wsURL(srv), http.Header{"Authorization": []string{"Bearer t"}}, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := conn.Write(ctx, []byte(`{"message":"ping"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := conn.Read(ctx)
	if err != nil || string(got) != `{"message":"ping"}` {
		t.Fatalf("Read=%q err=%v", got, err)
	}

	_, err = conn.Read(ctx)
	var ce *CloseError
	if !errors.As(err, &ce) || !ce.Clean() || ce.Reason != "done" {
		t.Fatalf("expected clean CloseError, got %v", err)
	}
}

func TestWebSocketDialer_HandshakeRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := WebSocketDialer{}.Dial(t.Context(), wsURL(srv), nil, nil)
	var de *DialError
	if !errors.As(err, &de) || de.Status != http.StatusUnauthorized {
		t.Fatalf("expected DialError with status 401, got %v", err)
	}
	if !errors.Is(err, ErrDial) {
		t.Fatalf("expected ErrDial")
	}
}
