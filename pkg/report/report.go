// Package report ingests completed-run records emitted by the
// configuration-management system's report hook and derives the change
// tag used to label node scans.
package report

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
)

// Run states that warrant registry provisioning. Test mode gates on
// unchanged runs instead so an operator can re-trigger the workflow by
// re-running the agent with nothing to change.
var (
	defaultRunStates = []string{"changed", "failed"}
	testRunStates    = []string{"unchanged"}
)

const (
	// defaultChangeTag labels scans for runs that carried no source
	// file information.
	defaultChangeTag = "config run"

	// maxTagLength bounds the joined file list before URL-encoding;
	// the appliance's job UI truncates longer labels anyway.
	maxTagLength = 41
)

// LogEntry is a single log line from a run, optionally naming the
// source file that produced it.
type LogEntry struct {
	File    string `json:"file,omitempty" yaml:"file,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Run is a completed configuration run as delivered by the hook.
type Run struct {
	Host   string     `json:"host" yaml:"host"`
	Status string     `json:"status" yaml:"status"`
	Logs   []LogEntry `json:"logs,omitempty" yaml:"logs,omitempty"`
}

// Validate checks the minimal shape of a run record.
func (r *Run) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("run record has no host")
	}
	if r.Status == "" {
		return fmt.Errorf("run record has no status")
	}
	return nil
}

// RunStates returns the set of run states that trigger provisioning.
func RunStates(testMode bool) []string {
	if testMode {
		return testRunStates
	}
	return defaultRunStates
}

// ShouldProcess reports whether a run with the given status warrants
// provisioning.
func ShouldProcess(status string, testMode bool) bool {
	for _, s := range RunStates(testMode) {
		if s == status {
			return true
		}
	}
	return false
}

// IgnoredHost reports whether the hostname matches the configured
// ignore substring. An empty filter ignores nothing.
func IgnoredHost(hostname, ignoreSubstring string) bool {
	return ignoreSubstring != "" && strings.Contains(hostname, ignoreSubstring)
}

// ChangeTag derives the URL-safe scan label from a run's log entries:
// the deduplicated, sorted basenames of every named source file, joined
// with ", ", truncated to 41 characters and URL-encoded. Runs without
// file information fall back to a fixed default tag.
func ChangeTag(logs []LogEntry) string {
	seen := make(map[string]struct{})
	var names []string
	for _, entry := range logs {
		if entry.File == "" {
			continue
		}
		name := path.Base(entry.File)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	if len(names) == 0 {
		return EncodeTag(defaultChangeTag)
	}

	sort.Strings(names)
	joined := strings.Join(names, ", ")
	// Truncate characters, not bytes, so a multibyte filename at the
	// boundary never leaves a mangled fragment in the label.
	if runes := []rune(joined); len(runes) > maxTagLength {
		joined = string(runes[:maxTagLength])
	}
	return EncodeTag(joined)
}

// EncodeTag percent-encodes a tag fragment the way the appliance's job
// UI expects: spaces become %20, not '+'.
func EncodeTag(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// OfflineTag appends the offline-mode marker to an already-encoded tag,
// so the job UI shows which scans were queued while the Registry was
// down.
func OfflineTag(tag string) string {
	return tag + EncodeTag(" (offline mode)")
}

// ParseFile reads a run record from a JSON or YAML file dropped by the
// report hook.
func ParseFile(filePath string) (*Run, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read run record: %w", err)
	}
	return Parse(data)
}
