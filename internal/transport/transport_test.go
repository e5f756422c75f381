package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_DoDirect(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("expected auth header, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	client := NewClient("")
	resp, err := client.Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     upstream.URL,
		Headers: map[string]string{"Authorization": "Bearer k"},
		Body:    []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestClient_DoClassifiesTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer upstream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient("")
	_, err := client.Do(ctx, Request{Method: http.MethodGet, URL: upstream.URL})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	te, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if te.Kind != KindTimeout {
		t.Fatalf("expected kind=%s, got %s", KindTimeout, te.Kind)
	}
}

func TestClient_DoClassifiesCancel(t *testing.T) {
	started := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(time.Second)
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := NewClient("")
	_, err := client.Do(ctx, Request{Method: http.MethodGet, URL: upstream.URL})
	if err == nil {
		t.Fatalf("expected cancel error")
	}
	te, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if te.Kind != KindCancelled {
		t.Fatalf("expected kind=%s, got %s", KindCancelled, te.Kind)
	}
}

func TestClient_DoClassifiesConnectError(t *testing.T) {
	client := NewClient("")
	_, err := client.Do(context.Background(), Request{
		Method: http.MethodGet,
		// Reserved port that nothing listens on.
		URL: "http://127.0.0.1:1",
	})
	if err == nil {
		t.Fatalf("expected connect error")
	}
	te, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if te.Kind != KindConnect {
		t.Fatalf("expected kind=%s, got %s", KindConnect, te.Kind)
	}
}

func TestWithIdleTimeout_CancelsStalledReads(t *testing.T) {
	pr, pw := io.Pipe()
	cancelled := make(chan struct{})
	body := WithIdleTimeout(io.NopCloser(pr), 50*time.Millisecond, func() {
		close(cancelled)
		_ = pw.CloseWithError(context.Canceled)
	})
	defer body.Close()

	go func() {
		_, _ = pw.Write([]byte("chunk"))
	}()
	buf := make([]byte, 16)
	if _, err := body.Read(buf); err != nil {
		t.Fatalf("first read: %v", err)
	}
	select {
	case <-cancelled:
		t.Fatalf("timer fired while reads were flowing")
	default:
	}

	// No more writes arrive; the idle window must fire the cancel and
	// unblock the stalled read.
	if _, err := body.Read(buf); err == nil {
		t.Fatalf("expected stalled read aborted")
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("cancel never fired")
	}
}

func TestBuildTransport_DisablesKeepAlives(t *testing.T) {
	rt, err := buildTransport("")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !rt.DisableKeepAlives {
		t.Fatalf("expected keep-alives disabled on per-call transports")
	}
}

func TestBuildTransport_RejectsUnknownScheme(t *testing.T) {
	if _, err := buildTransport("ftp://127.0.0.1:2121"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
