// Package registry is the HTTP client for the fleet-management appliance
// ("the Registry"). Every mutating operation is idempotent from the
// caller's point of view: create calls ignore duplicate errors and are
// always followed by a name-based lookup for the canonical id, so the
// orchestrator can safely replay the same request after a crash or an
// offline-queue drain.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/pkg/telemetry"
)

const (
	defaultProbeTimeout = 20 * time.Second

	// maxResponseBody bounds how much of an appliance response is read.
	maxResponseBody = 1 << 20
)

// ConnectionProfile is the connection-manager binding the Registry uses
// when it connects out to a node to scan it. Credentials are never logged.
type ConnectionProfile struct {
	ID              int64  `json:"id" yaml:"id"`
	ServiceAccount  string `json:"service_account" yaml:"service_account"`
	ServicePassword string `json:"service_password" yaml:"service_password"`
}

// DefaultProfile is the fallback connection profile, used whenever the
// hostname or OS is missing or no domain mapping matches.
func DefaultProfile() ConnectionProfile {
	return ConnectionProfile{ID: 1}
}

// ProfileResolver maps a node to the connection profile used when
// creating it. Implemented by provision.Resolver.
type ProfileResolver interface {
	Resolve(ctx context.Context, hostname, osName, datacenter string) ConnectionProfile
}

// Fixtures carries the test-environment hostname overrides applied when
// creating nodes in a test appliance.
type Fixtures struct {
	Enabled         bool
	OS              string
	WindowsHostname string
	LinuxHostname   string
}

// Config holds the settings for a registry client.
type Config struct {
	// BaseURL is the appliance URL, e.g. "https://appliance.example.com".
	BaseURL string

	// ServiceKey and SecretKey are concatenated to form the bearer token.
	ServiceKey string
	SecretKey  string

	// UnknownOSGroupID is the node group unrecognized-OS nodes are
	// attached to immediately after creation. Zero disables the attach.
	UnknownOSGroupID int64

	// VersionTag is stamped into the descriptions of everything this
	// tool creates, so operators can tell tool-managed objects apart.
	VersionTag string

	// ProbeTimeout bounds the reachability probe. Defaults to 20s.
	ProbeTimeout time.Duration

	Fixtures Fixtures
}

// Client talks to the Registry's v2 REST API.
type Client struct {
	baseURL          string
	token            string
	versionTag       string
	unknownOSGroupID int64
	probeTimeout     time.Duration
	fixtures         Fixtures

	profiles ProfileResolver
	httpc    *http.Client
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

// New creates a registry client. The profile resolver is attached
// separately (see SetProfileResolver) because it needs the client itself
// to materialize domain node groups; until one is attached, node
// creation falls back to the default connection profile.
func New(cfg Config, metrics *telemetry.Metrics, logger zerolog.Logger) *Client {
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		token:            cfg.ServiceKey + cfg.SecretKey,
		versionTag:       cfg.VersionTag,
		unknownOSGroupID: cfg.UnknownOSGroupID,
		probeTimeout:     probeTimeout,
		fixtures:         cfg.Fixtures,
		httpc:            &http.Client{},
		metrics:          metrics,
		logger:           logger.With().Str("component", "registry").Logger(),
	}
}

// SetProfileResolver attaches the connection-profile resolver used on
// the node-creation path.
func (c *Client) SetProfileResolver(r ProfileResolver) {
	c.profiles = r
}

// Probe performs the authenticated reachability check. A successful
// response from the user-listing endpoint whose body carries an "email"
// field means the appliance is reachable and the credentials are valid;
// any other outcome (timeout, auth failure, malformed body) means
// offline. The probe never takes longer than the configured ceiling.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	body, _, err := c.do(ctx, "users.list", http.MethodGet, "/api/v2/users", nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Reachability probe failed, treating appliance as offline")
		return false
	}
	if !strings.Contains(string(body), "email") {
		c.logger.Warn().Msg("Reachability probe response did not identify a user, treating appliance as offline")
		return false
	}
	return true
}

// do performs a single API request. op is the stable operation name
// used for metric labels; pathAndQuery may carry a raw query string and
// callers are responsible for encoding it. The response body is
// returned as-is for the caller to parse defensively.
func (c *Client) do(ctx context.Context, op, method, pathAndQuery string, payload any) ([]byte, int, error) {
	start := time.Now()

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Token token=%q", c.token))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.metrics.RecordRegistryCall(op, false, time.Since(start))
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.metrics.RecordRegistryCall(op, false, time.Since(start))
		return nil, resp.StatusCode, fmt.Errorf("%s: read response: %w", op, err)
	}

	c.metrics.RecordRegistryCall(op, true, time.Since(start))
	return body, resp.StatusCode, nil
}
