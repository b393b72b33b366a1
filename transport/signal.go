package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var errNoDescription = errors.New("no session description posted yet")

// SignalDescription is what peers exchange through the relay's SDP mailbox.
type SignalDescription struct {
	Peer string          `json:"peer"`
	SDP  json.RawMessage `json:"sdp"`
}

// SignalClient talks to PUT/GET /api/rooms/:room/{offer|answer} on the relay.
type SignalClient struct {
	base   string
	room   string
	client *http.Client
}

func NewSignalClient(relayURL, room string) *SignalClient {
	return &SignalClient{
		base:   strings.TrimSuffix(relayURL, "/"),
		room:   room,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SignalClient) endpoint(kind string) string {
	return fmt.Sprintf("%s/api/rooms/%s/%s", s.base, url.PathEscape(s.room), kind)
}

func (s *SignalClient) Put(ctx context.Context, kind string, d SignalDescription) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.endpoint(kind), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("put %s: status %d", kind, resp.StatusCode)
	}
	return nil
}

func (s *SignalClient) get(ctx context.Context, kind string) (*SignalDescription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(kind), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errNoDescription
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("get %s: status %d", kind, resp.StatusCode)
	}
	var d SignalDescription
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	return &d, nil
}

// Wait polls until a description of kind is posted by a peer other than self.
// Request failures are retried; onErr, when set, sees each of them.
func (s *SignalClient) Wait(ctx context.Context, kind, self string, every time.Duration,
	onErr func(error),
) (*SignalDescription, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		d, err := s.get(ctx, kind)
		if err == nil && d.Peer != self {
			return d, nil
		}
		if err != nil && !errors.Is(err, errNoDescription) && ctx.Err() == nil && onErr != nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
