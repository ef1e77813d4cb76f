package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type botServer struct {
	mu    sync.Mutex
	texts []string
	chats []string
}

func (b *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"pipeline","username":"pipeline_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		b.mu.Lock()
		b.texts = append(b.texts, r.FormValue("text"))
		b.chats = append(b.chats, r.FormValue("chat_id"))
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":10,"date":0,"chat":{"id":-100,"type":"group"}}}`))
	default:
		http.NotFound(w, r)
	}
}

func TestPublishSummary(t *testing.T) {
	t.Parallel()

	bs := &botServer{}
	srv := httptest.NewServer(bs)
	defer srv.Close()

	n, err := NewNotifierWithEndpoint("token", "-100", srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("NewNotifierWithEndpoint: %v", err)
	}

	if err := n.PublishSummary(context.Background(), "scrape done: 3 channels"); err != nil {
		t.Fatalf("PublishSummary: %v", err)
	}
	if err := n.PublishSummary(context.Background(), "   "); err != nil {
		t.Fatalf("blank summary: %v", err)
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if len(bs.texts) != 1 {
		t.Fatalf("expected one message, got %d", len(bs.texts))
	}
	if bs.texts[0] != "scrape done: 3 channels" || bs.chats[0] != "-100" {
		t.Fatalf("unexpected message: %q to %q", bs.texts[0], bs.chats[0])
	}
}

func TestPublishSummaryTruncates(t *testing.T) {
	t.Parallel()

	bs := &botServer{}
	srv := httptest.NewServer(bs)
	defer srv.Close()

	n, err := NewNotifierWithEndpoint("token", "5", srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("NewNotifierWithEndpoint: %v", err)
	}
	if err := n.PublishSummary(context.Background(), strings.Repeat("x", maxMessageLength+50)); err != nil {
		t.Fatalf("PublishSummary: %v", err)
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if got := len([]rune(bs.texts[0])); got != maxMessageLength {
		t.Fatalf("expected %d runes, got %d", maxMessageLength, got)
	}
}

func TestNewNotifierValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewNotifier("", "1"); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewNotifier("token", "general"); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}
