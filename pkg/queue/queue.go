// Package queue implements the durable offline queue used when the
// Registry appliance is unreachable. Provisioning requests are captured
// in a JSON file on local disk and replayed on the next run that finds
// the appliance reachable.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/pkg/registry"
	"github.com/nodesync/nodesync/pkg/telemetry"
)

// Entry is one queued provisioning request, carrying the facts that
// were current when the request was captured. Replays use these values
// as-is rather than re-resolving them.
type Entry struct {
	Hostname    string    `json:"hostname"`
	OS          string    `json:"os"`
	Role        string    `json:"role,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Datacenter  string    `json:"datacenter,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
}

// ReplayFunc processes one queued entry against the Registry. A hard
// classified error keeps the queue file on disk.
type ReplayFunc func(ctx context.Context, entry Entry) error

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Total    int
	Replayed int
	Failed   int
	// Clean is true when no entry failed hard and the queue file was
	// removed.
	Clean bool
}

// Queue is a file-backed queue of provisioning requests. It is not safe
// for concurrent use; the orchestrator serializes access.
type Queue struct {
	path    string
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// New creates a queue backed by the given file path.
func New(path string, metrics *telemetry.Metrics, logger zerolog.Logger) *Queue {
	return &Queue{
		path:    path,
		metrics: metrics,
		logger:  logger.With().Str("component", "queue").Logger(),
	}
}

// Path returns the queue's backing file path.
func (q *Queue) Path() string {
	return q.path
}

// HasBacklog reports whether the queue file exists on disk.
func (q *Queue) HasBacklog() bool {
	info, err := os.Stat(q.path)
	return err == nil && !info.IsDir()
}

// Load reads the queue file. A missing file is an empty queue. An
// unreadable or unparseable file returns an error; callers decide
// whether to discard it.
func (q *Queue) Load() ([]Entry, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse queue file: %w", err)
	}
	return entries, nil
}

// Enqueue appends an entry to the queue file, replacing any existing
// entry for the same hostname so a node queued twice while the
// appliance is down is provisioned once, with the freshest facts. A
// corrupt queue file is discarded with a warning rather than blocking
// new entries.
func (q *Queue) Enqueue(entry Entry) error {
	if entry.Hostname == "" {
		return fmt.Errorf("queue entry has no hostname")
	}
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now().UTC()
	}

	entries, err := q.Load()
	if err != nil {
		q.logger.Warn().Err(err).Str("path", q.path).
			Msg("queue file unreadable, starting fresh")
		entries = nil
	}

	replaced := false
	for i := range entries {
		if entries[i].Hostname == entry.Hostname {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}

	if err := q.write(entries); err != nil {
		return err
	}

	q.metrics.SetQueueDepth(len(entries))
	q.logger.Info().
		Str("hostname", entry.Hostname).
		Int("depth", len(entries)).
		Bool("replaced", replaced).
		Msg("provisioning request queued offline")
	return nil
}

// DrainAndReplay replays every queued entry through fn. Entries that
// fail soft are logged and counted as replayed; the workflow treats
// best-effort steps the same whether live or replayed. Entries that
// fail hard are counted as failed, and any hard failure keeps the queue
// file on disk so the batch is retried on a later run. Every entry is
// visited even after a failure. A file that cannot be parsed is removed
// with a warning, since replaying it is impossible.
func (q *Queue) DrainAndReplay(ctx context.Context, fn ReplayFunc) (ReplayResult, error) {
	var res ReplayResult

	entries, err := q.Load()
	if err != nil {
		q.logger.Warn().Err(err).Str("path", q.path).
			Msg("queue file unparseable, discarding")
		if rmErr := os.Remove(q.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return res, fmt.Errorf("remove corrupt queue file: %w", rmErr)
		}
		q.metrics.SetQueueDepth(0)
		return res, nil
	}
	if len(entries) == 0 {
		return res, nil
	}

	// Enqueue keeps one entry per hostname, but the file may have been
	// written by an older build or edited by hand. Dedupe again here,
	// last entry wins.
	entries = dedupeByHostname(entries)

	res.Total = len(entries)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := fn(ctx, entry); registry.IsHard(err) {
			res.Failed++
			q.logger.Error().Err(err).
				Str("hostname", entry.Hostname).
				Msg("queued entry failed replay")
			continue
		}
		res.Replayed++
	}

	res.Clean = res.Failed == 0
	if res.Clean {
		if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
			return res, fmt.Errorf("remove queue file: %w", err)
		}
		q.metrics.SetQueueDepth(0)
	} else {
		q.metrics.SetQueueDepth(len(entries))
	}
	q.metrics.RecordReplay(res.Clean)

	q.logger.Info().
		Int("total", res.Total).
		Int("replayed", res.Replayed).
		Int("failed", res.Failed).
		Bool("clean", res.Clean).
		Msg("offline queue replay finished")
	return res, nil
}

// dedupeByHostname keeps the last entry per hostname, preserving the
// order of first appearance.
func dedupeByHostname(entries []Entry) []Entry {
	latest := make(map[string]Entry, len(entries))
	var order []string
	for _, e := range entries {
		if _, seen := latest[e.Hostname]; !seen {
			order = append(order, e.Hostname)
		}
		latest[e.Hostname] = e
	}
	out := make([]Entry, 0, len(order))
	for _, host := range order {
		out = append(out, latest[host])
	}
	return out
}

// write persists the queue atomically via a temp file in the same
// directory.
func (q *Queue) write(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return fmt.Errorf("create queue temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write queue temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close queue temp file: %w", err)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
