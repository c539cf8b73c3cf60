package repl

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"gradeline/internal/cli/command"
	httpclient "gradeline/internal/common/http/client"
	pkgerrors "gradeline/pkg/errors"
)

func newRunner(t *testing.T, handler http.HandlerFunc) (*Runner, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := httpclient.New(srv.URL, time.Second, func() map[string]string {
		return map[string]string{"X-Ops-Secret": "ops"}
	})
	out := &bytes.Buffer{}
	return NewRunner(client, command.Registry(), out, false), out
}

func TestExecSendsOpsRequest(t *testing.T) {
	var gotMethod, gotPath, gotSecret string
	runner, out := newRunner(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotSecret = r.Method, r.URL.Path, r.Header.Get("X-Ops-Secret")
		_, _ = w.Write([]byte(`{"code":0,"message":"Success","data":{"file_id":"f-1"}}`))
	})

	if err := runner.Exec(context.Background(), []string{"stuck", "requeue", "file_id=f-1"}); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/ops/stuck-jobs/f-1/requeue" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotSecret != "ops" {
		t.Fatalf("secret header = %q", gotSecret)
	}
	if !strings.Contains(out.String(), "HTTP 200") || !strings.Contains(out.String(), `"file_id":"f-1"`) {
		t.Fatalf("output = %s", out.String())
	}
}

func TestExecReturnsServerError(t *testing.T) {
	runner, _ := newRunner(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":` + strconv.Itoa(int(pkgerrors.StuckJobNotFound)) + `,"message":"not stuck"}`))
	})
	err := runner.Exec(context.Background(), []string{"stuck", "requeue", "file_id=f-2"})
	if !pkgerrors.Is(err, pkgerrors.StuckJobNotFound) {
		t.Fatalf("Exec() error = %v", err)
	}
}

func TestExecPromptsForMissingFields(t *testing.T) {
	var gotPath string
	runner, _ := newRunner(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"code":0,"message":"Success"}`))
	})
	answers := map[string]string{"machine host: ": "lab-1"}
	runner.WithPrompt(func(prompt string) (string, error) { return answers[prompt], nil })

	if err := runner.Exec(context.Background(), []string{"machine", "assign", "id=hw3"}); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if gotPath != "/api/v1/ops/assignments/hw3/machines/lab-1" {
		t.Fatalf("path = %s", gotPath)
	}
}

func TestExecRejectsUnknownCommand(t *testing.T) {
	runner, _ := newRunner(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	if err := runner.Exec(context.Background(), []string{"user", "login"}); err == nil {
		t.Fatal("expected unknown command error")
	}
	if err := runner.Exec(context.Background(), []string{"stuck"}); err == nil {
		t.Fatal("expected usage error")
	}
}
