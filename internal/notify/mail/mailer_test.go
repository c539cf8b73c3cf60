package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestCompose(t *testing.T) {
	raw := string(Compose("noreply@example.org", Message{
		To:      []string{"a@example.org", "b@example.org"},
		Subject: "Hello\r\nBcc: evil@example.org",
		Body:    "line one\nline two",
	}))
	if !strings.Contains(raw, "To: a@example.org, b@example.org\r\n") {
		t.Fatalf("missing recipients: %q", raw)
	}
	if strings.Contains(raw, "\r\nBcc:") {
		t.Fatalf("header injection not neutralised: %q", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\nline one\r\nline two") {
		t.Fatalf("unexpected body: %q", raw)
	}
}

func TestSMTPMailerSend(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "mail.example.org", From: "noreply@example.org", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("NewSMTPMailer: %v", err)
	}
	var gotAddr string
	var gotTo []string
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo = addr, to
		if a == nil {
			t.Error("expected auth")
		}
		return nil
	}
	if err := m.Send(context.Background(), Message{To: []string{"a@example.org"}, Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "mail.example.org:25" || len(gotTo) != 1 {
		t.Fatalf("addr=%q to=%v", gotAddr, gotTo)
	}

	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550 rejected") }
	if err := m.Send(context.Background(), Message{To: []string{"a@example.org"}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSMTPMailerTimeout(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "mail.example.org", From: "x@example.org", Timeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSMTPMailer: %v", err)
	}
	block := make(chan struct{})
	defer close(block)
	m.send = func(string, smtp.Auth, string, []string, []byte) error { <-block; return nil }
	if err := m.Send(context.Background(), Message{To: []string{"a@example.org"}}); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestNewSMTPMailerRequiresHost(t *testing.T) {
	if _, err := NewSMTPMailer(SMTPConfig{From: "x@example.org"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFromConfig(t *testing.T) {
	m, err := FromConfig(SMTPConfig{})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, ok := m.(LogMailer); !ok {
		t.Fatalf("expected LogMailer, got %T", m)
	}
	m, err = FromConfig(SMTPConfig{Host: "mail.example.org", From: "x@example.org"})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, ok := m.(*SMTPMailer); !ok {
		t.Fatalf("expected *SMTPMailer, got %T", m)
	}
}
