package mail

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedi/util"
)

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	sender := &LogSender{Logger: log.New(&buf)}

	err := sender.SendMail(context.Background(), Message{To: "alice@example.com", Subject: "Hello"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), "alice@example.com") {
		t.Errorf("Expected recipient in log output, got %q", buf.String())
	}
}

func TestNewSenderFallsBackWithoutHost(t *testing.T) {
	fallback := &LogSender{Logger: util.DiscardLogger()}
	if got := NewSender(util.SmtpConfig{}, fallback); got != Sender(fallback) {
		t.Errorf("Expected log sender without smtp host, got %T", got)
	}
	if _, ok := NewSender(util.SmtpConfig{Host: "smtp.example.com", Port: 587}, fallback).(*SMTPSender); !ok {
		t.Error("Expected smtp sender when host is configured")
	}
}

func TestSMTPSenderBuild(t *testing.T) {
	sender := NewSMTPSender(util.SmtpConfig{Host: "smtp.example.com", Port: 587, From: "fedi@example.com"})

	if _, err := sender.build(Message{To: "alice@example.com", Subject: "Hi", Content: "body"}); err != nil {
		t.Errorf("Expected message to build, got %v", err)
	}
	if _, err := sender.build(Message{To: "not an address", Subject: "Hi"}); err == nil {
		t.Error("Expected error for invalid recipient")
	}
}
