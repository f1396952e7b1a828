// Package provision orchestrates the registration of configuration-managed
// nodes with the Registry appliance: lookup-or-create of groups,
// environments and the node itself, membership attachment, and scan
// triggering, with durable offline queueing when the appliance is down.
package provision

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nodesync/nodesync/pkg/queue"
)

// Operating system families the Registry classifier recognizes.
// Anything else is provisioned as a generic network device.
const (
	OSWindows = "windows"
	OSLinux   = "linux"
	OSCentOS  = "centos"
	OSUnknown = "unknown"
)

// SentinelEnvironment marks nodes whose datacenter or environment facts
// were unavailable. It is a deliberate flag for operators, not a real
// environment.
const SentinelEnvironment = "tf_problem"

// Request is one provisioning request, immutable once constructed. The
// run id ties log lines, spans and history rows of one run together.
type Request struct {
	RunID       string `json:"run_id"`
	Hostname    string `json:"hostname"`
	OS          string `json:"os"`
	Role        string `json:"role,omitempty"`
	Environment string `json:"environment,omitempty"`
	Datacenter  string `json:"datacenter,omitempty"`

	// Tag is the URL-encoded change tag used as the scan label.
	Tag string `json:"tag,omitempty"`
}

// NewRequest builds a provisioning request with a fresh run id.
func NewRequest(hostname, osName, role, environment, datacenter, tag string) (Request, error) {
	if hostname == "" {
		return Request{}, fmt.Errorf("provisioning request has no hostname")
	}
	return Request{
		RunID:       uuid.NewString(),
		Hostname:    hostname,
		OS:          NormalizeOS(osName),
		Role:        role,
		Environment: environment,
		Datacenter:  datacenter,
		Tag:         tag,
	}, nil
}

// NormalizeOS lower-cases an operating system fact. Empty input maps to
// the unknown family.
func NormalizeOS(osName string) string {
	s := strings.ToLower(strings.TrimSpace(osName))
	if s == "" {
		return OSUnknown
	}
	return s
}

// IsWindows reports whether the request targets a Windows node.
func (r Request) IsWindows() bool {
	return r.OS == OSWindows
}

// EnvironmentName derives the Registry environment name for the
// request: "<datacenter>_<environment>", or the sentinel when either
// fact is missing.
func (r Request) EnvironmentName() string {
	return EnvironmentName(r.Datacenter, r.Environment)
}

// EnvironmentName combines datacenter and environment into a Registry
// environment name, falling back to the sentinel when either is empty.
func EnvironmentName(datacenter, environment string) string {
	if datacenter == "" || environment == "" {
		return SentinelEnvironment
	}
	return datacenter + "_" + environment
}

// QueueEntry converts the request to its durable offline form.
func (r Request) QueueEntry() queue.Entry {
	return queue.Entry{
		Hostname:    r.Hostname,
		OS:          r.OS,
		Role:        r.Role,
		Environment: r.Environment,
		Datacenter:  r.Datacenter,
		Tag:         r.Tag,
	}
}

// FromQueueEntry reconstructs a request from a queued entry, assigning
// a fresh run id for the replay.
func FromQueueEntry(e queue.Entry) Request {
	return Request{
		RunID:       uuid.NewString(),
		Hostname:    e.Hostname,
		OS:          NormalizeOS(e.OS),
		Role:        e.Role,
		Environment: e.Environment,
		Datacenter:  e.Datacenter,
		Tag:         e.Tag,
	}
}
