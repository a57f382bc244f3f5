package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/logx"
)

// HTTPStore talks to a remote stashd instance's ledger API. It is the
// "remote" side of the commit policy when the engine runs on a device and
// the authoritative store lives elsewhere.
type HTTPStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logx.Logger
}

// NewHTTPStore creates a remote ledger client. baseURL is the daemon root,
// e.g. "http://ledger.example.com:8080".
func NewHTTPStore(baseURL, apiKey string, logger *logx.Logger) (*HTTPStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("remote ledger URL is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid remote ledger URL %q: %w", baseURL, err)
	}

	return &HTTPStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// ReadLedger fetches the remote ledger snapshot.
func (s *HTTPStore) ReadLedger(ctx context.Context, userID string) (*pkg.LedgerSnapshot, error) {
	reqURL := fmt.Sprintf("%s/api/ledger?user=%s", s.baseURL, url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger request: %w", err)
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote ledger read failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote ledger read returned %d: %s", resp.StatusCode, string(body))
	}

	snap := &pkg.LedgerSnapshot{}
	if err := json.NewDecoder(resp.Body).Decode(snap); err != nil {
		return nil, fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return snap, nil
}

// WriteCollectionEvent posts one collection event to the remote ledger.
func (s *HTTPStore) WriteCollectionEvent(ctx context.Context, ev *CollectionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal collection event: %w", err)
	}

	reqURL := s.baseURL + "/api/ledger/collect"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build collect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote collection write failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote collection write returned %d: %s", resp.StatusCode, string(body))
	}

	s.logger.Debug("Remote collection write acknowledged",
		"user_id", ev.UserID, "entity_id", ev.EntityID)
	return nil
}

func (s *HTTPStore) authorize(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
}
