package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smart-doorbell-go/config"

	log "github.com/sirupsen/logrus"
)

// RemoteLogEntry is the document appended to the Firebase log
type RemoteLogEntry struct {
	Filename   string  `json:"filename"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
}

// RemoteLog appends results to a Firebase Realtime Database through its REST API
type RemoteLog struct {
	endpoint string
	client   *http.Client
}

// NewRemoteLog builds the client. host and path are joined verbatim and the
// auth token, when set, is sent as the auth query parameter.
func NewRemoteLog(cfg config.RemoteLogConfig) (*RemoteLog, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("remote log host is not configured")
	}
	u, err := url.Parse(strings.TrimRight(cfg.Host, "/") + cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid remote log URL: %w", err)
	}
	if cfg.Auth != "" {
		q := u.Query()
		q.Set("auth", cfg.Auth)
		u.RawQuery = q.Encode()
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &RemoteLog{
		endpoint: u.String(),
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Name implements Notifier
func (r *RemoteLog) Name() string { return SinkRemoteLog }

// Notify posts one entry. Any status other than 2xx is an error.
func (r *RemoteLog) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(RemoteLogEntry{
		Filename:   ev.Filename,
		Label:      ev.Label,
		Confidence: ev.Confidence,
		Timestamp:  ev.Timestamp(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode remote log entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create remote log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote log request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote log returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	log.Debugf("Remote log entry stored for %s", ev.Filename)
	return nil
}
