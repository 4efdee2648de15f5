package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"exam-grader/api/internal/grading"
)

func TestSplitMessage(t *testing.T) {
	if got := SplitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected: %v", got)
	}

	text := strings.Repeat("line one\n", 5)
	got := SplitMessage(text, 20)
	for _, c := range got {
		if utf8.RuneCountInString(c) > 20 {
			t.Fatalf("chunk too long: %q", c)
		}
		if strings.HasPrefix(c, "ne") {
			t.Fatalf("chunk cut mid-line: %q", c)
		}
	}
	if strings.Join(got, "\n") != strings.TrimRight(text, "\n") {
		t.Fatalf("content lost: %q", got)
	}

	long := strings.Repeat("я", 25)
	got = SplitMessage(long, 10)
	if len(got) != 3 || utf8.RuneCountInString(got[2]) != 5 {
		t.Fatalf("unexpected rune split: %v", got)
	}
}

type botServer struct {
	mu    sync.Mutex
	texts []string
	chats []string
}

func (b *botServer) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"grader","username":"grader_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		b.mu.Lock()
		b.texts = append(b.texts, r.FormValue("text"))
		b.chats = append(b.chats, r.FormValue("chat_id"))
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func TestNotifierDeliver(t *testing.T) {
	srv := &botServer{}
	server := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(server.Close)

	n, err := NewNotifierWithEndpoint("TOKEN", server.URL+"/bot%s/%s", server.Client(), 42, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	card := grading.Scorecard{TotalObtained: 8, TotalPossible: 10, Percentage: 80, Grade: "A"}
	res := grading.Result{Report: strings.Repeat("feedback line\n", 400), Scorecard: &card}
	if err := n.Deliver(context.Background(), res); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(srv.texts) < 2 {
		t.Fatalf("expected the long report to be split, got %d messages", len(srv.texts))
	}
	if !strings.Contains(srv.texts[0], "8/10 (80.00%, A)") {
		t.Fatalf("header missing summary: %q", srv.texts[0][:60])
	}
	for i, chat := range srv.chats {
		if chat != "42" {
			t.Fatalf("message %d sent to chat %s", i, chat)
		}
	}
}
