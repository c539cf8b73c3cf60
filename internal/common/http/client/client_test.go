package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgerrors "gradeline/pkg/errors"
)

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Ops-Secret") != "s" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":10004,"message":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"host":"runner-1"}}`))
	}))
	defer srv.Close()

	secret := ""
	c := New(srv.URL+"/", time.Second, func() map[string]string {
		return map[string]string{"X-Ops-Secret": secret}
	})

	var out struct {
		Host string `json:"host"`
	}
	err := c.DoJSON(context.Background(), http.MethodGet, "/x", nil, &out)
	if pkgerrors.GetCode(err) != pkgerrors.Unauthorized {
		t.Fatalf("err = %v", err)
	}

	secret = "s"
	if err := c.DoJSON(context.Background(), http.MethodGet, "/x", nil, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if out.Host != "runner-1" {
		t.Fatalf("host = %q", out.Host)
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := DecodeEnvelope(ResponseInfo{StatusCode: 502, Body: []byte("<html>")}); err == nil {
		t.Fatal("expected error")
	}
}
