package delivery_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/courier/delivery"
)

func TestSenderPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("X-Test") != "1" {
			t.Errorf("missing header")
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != "payload" {
			t.Errorf("body = %q", b)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "accepted")
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set("X-Test", "1")
	res := delivery.NewSender(nil).Send(context.Background(), srv.URL, []byte("payload"), h, time.Second)

	if res.StatusCode != http.StatusAccepted || res.Response != "accepted" || res.Error != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.OK() {
		t.Fatal("expected OK")
	}
}

func TestSenderCapsResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, strings.Repeat("a", 4096))
	}))
	defer srv.Close()

	res := delivery.NewSender(nil).Send(context.Background(), srv.URL, nil, http.Header{}, time.Second)
	if len(res.Response) != 1024 {
		t.Fatalf("response length = %d, want 1024", len(res.Response))
	}
}

func TestSenderTimeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(done)

	res := delivery.NewSender(nil).Send(context.Background(), srv.URL, nil, http.Header{}, 30*time.Millisecond)
	if res.StatusCode != 0 || res.Error != "request timed out after 30ms" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSenderConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := delivery.NewSender(nil).Send(context.Background(), url, nil, http.Header{}, time.Second)
	if res.Error == "" || res.OK() {
		t.Fatalf("expected transport error, got %+v", res)
	}
}
