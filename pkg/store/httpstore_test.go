package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/logx"
)

func newTestHTTPStore(t *testing.T, handler http.Handler) *HTTPStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewHTTPStore(srv.URL, "secret", logx.NewLogger("error", "httpstore_test"))
	if err != nil {
		t.Fatalf("NewHTTPStore failed: %v", err)
	}
	return s
}

func TestNewHTTPStoreRejectsEmptyURL(t *testing.T) {
	if _, err := NewHTTPStore("", "", logx.NewLogger("error", "httpstore_test")); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestHTTPStoreReadLedger(t *testing.T) {
	s := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ledger" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Error("missing API key header")
		}
		if got := r.URL.Query().Get("user"); got != "hunter-1" {
			t.Errorf("unexpected user %q", got)
		}
		json.NewEncoder(w).Encode(&pkg.LedgerSnapshot{
			UserID:      "hunter-1",
			TotalPoints: 125,
		})
	}))

	snap, err := s.ReadLedger(context.Background(), "hunter-1")
	if err != nil {
		t.Fatalf("ReadLedger failed: %v", err)
	}
	if snap.TotalPoints != 125 {
		t.Errorf("expected 125 points, got %d", snap.TotalPoints)
	}
}

func TestHTTPStoreReadLedgerNotFound(t *testing.T) {
	s := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	}))

	_, err := s.ReadLedger(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPStoreReadLedgerServerError(t *testing.T) {
	s := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))

	_, err := s.ReadLedger(context.Background(), "hunter-1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected a transport error, got %v", err)
	}
}

func TestHTTPStoreWriteCollectionEvent(t *testing.T) {
	var got CollectionEvent
	s := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ledger/collect" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	ev := &CollectionEvent{
		UserID:    "hunter-1",
		EntityID:  "coin-1",
		Kind:      pkg.KindStandardCoin,
		Value:     25,
		Timestamp: time.Now(),
	}
	if err := s.WriteCollectionEvent(context.Background(), ev); err != nil {
		t.Fatalf("WriteCollectionEvent failed: %v", err)
	}
	if got.EntityID != "coin-1" || got.Value != 25 {
		t.Errorf("server saw %+v", got)
	}
}

func TestHTTPStoreWriteCollectionEventRejected(t *testing.T) {
	s := newTestHTTPStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))

	ev := &CollectionEvent{UserID: "hunter-1", EntityID: "coin-1", Value: 25}
	if err := s.WriteCollectionEvent(context.Background(), ev); err == nil {
		t.Error("expected error on rejected write")
	}
}
