package callback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"verifai/internal/domain"
)

func TestDeliverPostsJSONWithBearer(t *testing.T) {
	var got struct {
		auth        string
		contentType string
		payload     domain.FailurePayload
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		got.auth = r.Header.Get("Authorization")
		got.contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got.payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient("callback-secret", time.Second, nil)
	payload := domain.NewFailurePayload("job-7", errors.New("boom"))
	if err := c.Deliver(context.Background(), srv.URL, payload); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got.auth != "Bearer callback-secret" {
		t.Fatalf("Authorization = %q", got.auth)
	}
	if got.contentType != "application/json" {
		t.Fatalf("Content-Type = %q", got.contentType)
	}
	if got.payload != payload {
		t.Fatalf("payload = %+v, want %+v", got.payload, payload)
	}
}

func TestDeliverFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			http.Error(w, "nope", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient("s", 50*time.Millisecond, nil)
	tests := map[string]string{
		"server error": srv.URL + "/fail",
		"timeout":      srv.URL + "/slow",
		"bad url":      "://missing-scheme",
	}
	for name, url := range tests {
		t.Run(name, func(t *testing.T) {
			if err := c.Deliver(context.Background(), url, map[string]string{"k": "v"}); !errors.Is(err, domain.ErrDelivery) {
				t.Fatalf("err = %v, want ErrDelivery", err)
			}
		})
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("server hit %d times, want exactly one attempt per delivery", n)
	}
}

func TestDeliverUnencodablePayload(t *testing.T) {
	c := NewClient("s", time.Second, nil)
	if err := c.Deliver(context.Background(), "http://127.0.0.1:1", make(chan int)); !errors.Is(err, domain.ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
}
