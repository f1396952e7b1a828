// Package facts queries the configuration-management fact database for
// the node attributes that drive provisioning: operating system, role,
// environment and datacenter.
package facts

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxResponseBytes bounds fact-database response bodies.
const maxResponseBytes = 1 << 20

// Fixtures supplies canned facts for integration testing against a
// sandbox appliance, bypassing the fact database entirely.
type Fixtures struct {
	Enabled     bool
	OS          string
	Role        string
	Environment string
	Datacenter  string
}

// Config holds fact-database connection settings. The database
// authenticates clients with TLS certificates; plain http URLs skip
// certificate loading so tests can point at an httptest server.
type Config struct {
	URL      string
	CertFile string
	KeyFile  string
	CAFile   string
	Timeout  time.Duration
	Fixtures Fixtures
}

// NodeFacts are the attributes provisioning needs for one node.
// Missing trusted extensions come back as empty strings; a missing
// operating system fact comes back as "unknown".
type NodeFacts struct {
	OS          string
	Role        string
	Environment string
	Datacenter  string
}

// Client queries the fact database over its HTTP query API.
type Client struct {
	baseURL  string
	fixtures Fixtures
	httpc    *http.Client
	logger   zerolog.Logger
}

// New creates a fact-database client. Certificate files are loaded
// eagerly so misconfiguration surfaces at startup rather than on the
// first query.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpc := &http.Client{Timeout: timeout}
	if strings.HasPrefix(cfg.URL, "https://") && cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load fact database client certificate: %w", err)
		}
		tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
		if cfg.CAFile != "" {
			caPEM, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read fact database CA: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("fact database CA %s contains no certificates", cfg.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
		httpc.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		fixtures: cfg.Fixtures,
		httpc:    httpc,
		logger:   logger.With().Str("component", "facts").Logger(),
	}, nil
}

// NodeFacts returns the provisioning facts for a node. Fact lookups are
// defensive: nodes missing from the database or missing individual
// facts yield zero values, not errors, because provisioning of freshly
// built nodes routinely races fact submission.
func (c *Client) NodeFacts(ctx context.Context, hostname string) (*NodeFacts, error) {
	if c.fixtures.Enabled {
		return &NodeFacts{
			OS:          c.fixtures.OS,
			Role:        c.fixtures.Role,
			Environment: c.fixtures.Environment,
			Datacenter:  c.fixtures.Datacenter,
		}, nil
	}

	nf := &NodeFacts{OS: "unknown"}

	if osName, err := c.factString(ctx, hostname, "operatingsystem"); err != nil {
		return nil, err
	} else if osName != "" {
		nf.OS = osName
	}

	trusted, err := c.factValue(ctx, hostname, "trusted")
	if err != nil {
		return nil, err
	}
	if m, ok := trusted.(map[string]any); ok {
		if ext, ok := m["extensions"].(map[string]any); ok {
			nf.Role, _ = ext["pp_role"].(string)
			nf.Environment, _ = ext["pp_environment"].(string)
			nf.Datacenter, _ = ext["pp_datacenter"].(string)
		}
	}

	c.logger.Debug().
		Str("hostname", hostname).
		Str("os", nf.OS).
		Str("role", nf.Role).
		Str("environment", nf.Environment).
		Str("datacenter", nf.Datacenter).
		Msg("facts resolved")
	return nf, nil
}

// factString fetches a fact expected to hold a scalar string value.
func (c *Client) factString(ctx context.Context, hostname, fact string) (string, error) {
	v, err := c.factValue(ctx, hostname, fact)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// factValue fetches a single fact for a node. Unknown nodes and unknown
// facts return nil without error.
func (c *Client) factValue(ctx context.Context, hostname, fact string) (any, error) {
	endpoint := fmt.Sprintf("%s/pdb/query/v4/nodes/%s/facts/%s",
		c.baseURL, url.PathEscape(hostname), url.PathEscape(fact))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build fact query: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query fact database: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read fact database response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fact database returned status %d for %s/%s", resp.StatusCode, hostname, fact)
	}

	var rows []struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse fact database response: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].Value, nil
}
