package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "ensenbot/internal/transport"
	logx "ensenbot/pkg/logx"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	got := splitText("short message", 100, "")
	if len(got) != 1 || got[0] != "short message" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one\n", 30)
	chunks := splitText(text, 100, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasPrefix(c, "\n") {
			t.Fatalf("chunk %d starts with newline", i)
		}
	}
}

func TestSplitTextAvoidsDanglingHTMLTag(t *testing.T) {
	text := strings.Repeat("x", 95) + "<b>bold</b>"
	chunks := splitText(text, 100, "HTML")
	for i, c := range chunks {
		open := strings.Count(c, "<")
		closed := strings.Count(c, ">")
		if open != closed {
			t.Fatalf("chunk %d has dangling tag: %q", i, c)
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSendTextDeliversChunks(t *testing.T) {
	var sent []string
	a := &Adapter{
		cfg: Config{SendTimeout: time.Second},
		log: logx.Nop(),
		send: func(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
			sent = append(sent, what.(string))
			return &tele.Message{ID: len(sent)}, nil
		},
	}

	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42}, "hello", &kit.SendOptions{ParseMode: "HTML"})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(sent) != 1 || sent[0] != "hello" {
		t.Fatalf("sent = %v", sent)
	}
	if ref.ChatID != 42 || ref.MessageID != 1 {
		t.Fatalf("ref = %+v", ref)
	}
}

// A wire call that hangs must not outlive the configured send timeout.
func TestSendTextTimesOutOnHungSend(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	a := &Adapter{
		cfg: Config{SendTimeout: 50 * time.Millisecond},
		log: logx.Nop(),
		send: func(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
			<-block
			return nil, nil
		},
	}

	start := time.Now()
	_, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 1}, "hi", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("SendText blocked for %v", elapsed)
	}
}
