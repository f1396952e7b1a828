package provision

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/pkg/queue"
	"github.com/nodesync/nodesync/pkg/registry"
)

// fakeRegistry is a hand-written RegistryAPI double. Node ids are
// assigned sequentially; hostnames in hardHosts fail lookup hard.
type fakeRegistry struct {
	online    bool
	hardHosts map[string]bool

	nextID    int64
	nodes     map[string]int64
	created   []string
	scans     []string
	groups    []string
	groupAdds int
	envAdds   int
}

func newFakeRegistry(online bool) *fakeRegistry {
	return &fakeRegistry{
		online: online,
		nextID: 100,
		nodes:  make(map[string]int64),
	}
}

func (f *fakeRegistry) Probe(context.Context) bool { return f.online }

func (f *fakeRegistry) LookupOrCreateGroup(_ context.Context, name, rule string) (int64, error) {
	f.groups = append(f.groups, name)
	return int64(len(f.groups)), nil
}

func (f *fakeRegistry) LookupOrCreateEnvironment(_ context.Context, name string) (int64, error) {
	return 9, nil
}

func (f *fakeRegistry) LookupOrCreateNode(_ context.Context, hostname, osName, datacenter string) (registry.Node, error) {
	if f.hardHosts[hostname] {
		return registry.Node{}, registry.NewHardError("nodes.lookup", "boom", nil)
	}
	if id, ok := f.nodes[hostname]; ok {
		return registry.Node{ID: id}, nil
	}
	f.nextID++
	f.nodes[hostname] = f.nextID
	f.created = append(f.created, hostname)
	return registry.Node{ID: f.nextID, Created: true}, nil
}

func (f *fakeRegistry) AddNodeToGroup(context.Context, int64, int64) (bool, error) {
	f.groupAdds++
	return false, nil
}

func (f *fakeRegistry) AddNodeToEnvironment(context.Context, int64, int64) error {
	f.envAdds++
	return nil
}

func (f *fakeRegistry) StartScan(_ context.Context, nodeID int64, label string) (int64, error) {
	f.scans = append(f.scans, label)
	return 1, nil
}

func testQueue(t *testing.T) *queue.Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offline-queue.json")
	return queue.New(path, nil, zerolog.Nop())
}

func newTestOrchestrator(reg RegistryAPI, q OfflineQueue, slept *[]time.Duration) *Orchestrator {
	return New(Options{
		Registry:         reg,
		Queue:            q,
		Logger:           zerolog.Nop(),
		SleepAfterCreate: 30 * time.Second,
		sleep: func(_ context.Context, d time.Duration) {
			if slept != nil {
				*slept = append(*slept, d)
			}
		},
	})
}

func mustRequest(t *testing.T, hostname string) Request {
	t.Helper()
	req, err := NewRequest(hostname, "centos", "web_server", "qa", "mtv", "site.pp")
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	return req
}

func TestProvisionOffline(t *testing.T) {
	reg := newFakeRegistry(false)
	q := testQueue(t)
	o := newTestOrchestrator(reg, q, nil)

	outcome, err := o.Provision(context.Background(), mustRequest(t, "web01"))
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if outcome != OutcomeQueuedOffline {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeQueuedOffline)
	}
	if len(reg.created) != 0 || len(reg.scans) != 0 {
		t.Error("no registry mutations expected while offline")
	}

	entries, err := q.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Hostname != "web01" {
		t.Fatalf("queue entries = %+v, want one for web01", entries)
	}
	if want := "site.pp%20%28offline%20mode%29"; entries[0].Tag != want {
		t.Errorf("queued tag = %q, want %q", entries[0].Tag, want)
	}
}

func TestProvisionOnline(t *testing.T) {
	reg := newFakeRegistry(true)
	var slept []time.Duration
	o := newTestOrchestrator(reg, testQueue(t), &slept)

	outcome, err := o.Provision(context.Background(), mustRequest(t, "web01"))
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if outcome != OutcomeProvisioned {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeProvisioned)
	}

	if want := []string{"web_server", "Linux_Static"}; len(reg.groups) != 2 ||
		reg.groups[0] != want[0] || reg.groups[1] != want[1] {
		t.Errorf("groups = %v, want %v", reg.groups, want)
	}
	if reg.groupAdds != 2 || reg.envAdds != 1 {
		t.Errorf("memberships = %d groups / %d envs, want 2/1", reg.groupAdds, reg.envAdds)
	}
	if len(reg.scans) != 1 || reg.scans[0] != "site.pp" {
		t.Errorf("scans = %v, want [site.pp]", reg.scans)
	}
	// web01 was created, so the grace sleep applies.
	if len(slept) != 1 || slept[0] != 30*time.Second {
		t.Errorf("slept = %v, want one 30s sleep for created node", slept)
	}
}

func TestProvisionExistingNodeSkipsSleep(t *testing.T) {
	reg := newFakeRegistry(true)
	reg.nodes["web01"] = 500
	var slept []time.Duration
	o := newTestOrchestrator(reg, testQueue(t), &slept)

	if _, err := o.Provision(context.Background(), mustRequest(t, "web01")); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if len(slept) != 0 {
		t.Errorf("slept = %v, want none for pre-existing node", slept)
	}
}

func TestProvisionReplaysBacklogFirst(t *testing.T) {
	reg := newFakeRegistry(true)
	q := testQueue(t)
	for _, host := range []string{"old1", "old2"} {
		if err := q.Enqueue(queue.Entry{Hostname: host, OS: "centos"}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", host, err)
		}
	}

	o := newTestOrchestrator(reg, q, nil)
	if _, err := o.Provision(context.Background(), mustRequest(t, "current")); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	if want := []string{"old1", "old2", "current"}; len(reg.created) != 3 ||
		reg.created[0] != want[0] || reg.created[1] != want[1] || reg.created[2] != want[2] {
		t.Errorf("created = %v, want backlog before current: %v", reg.created, want)
	}
	if q.HasBacklog() {
		t.Error("queue file should be removed after a clean replay")
	}
}

func TestProvisionReplayHardErrorKeepsQueue(t *testing.T) {
	reg := newFakeRegistry(true)
	reg.hardHosts = map[string]bool{"bad": true}
	q := testQueue(t)
	for _, host := range []string{"good1", "bad", "good2"} {
		if err := q.Enqueue(queue.Entry{Hostname: host, OS: "centos"}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", host, err)
		}
	}

	o := newTestOrchestrator(reg, q, nil)
	if _, err := o.Provision(context.Background(), mustRequest(t, "current")); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	// Both good entries are still attempted despite the hard error in
	// between, and the current request is processed too.
	if len(reg.created) != 3 {
		t.Errorf("created = %v, want good1, good2 and current", reg.created)
	}
	if !q.HasBacklog() {
		t.Error("queue file must be kept after a hard replay error")
	}
}

func TestProvisionHardErrorOnCurrent(t *testing.T) {
	reg := newFakeRegistry(true)
	reg.hardHosts = map[string]bool{"web01": true}
	o := newTestOrchestrator(reg, testQueue(t), nil)

	outcome, err := o.Provision(context.Background(), mustRequest(t, "web01"))
	if !registry.IsHard(err) {
		t.Errorf("error = %v, want hard", err)
	}
	if outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeFailed)
	}
}

func TestProvisionUnknownOSSkipsStaticGroup(t *testing.T) {
	reg := newFakeRegistry(true)
	o := newTestOrchestrator(reg, testQueue(t), nil)

	req, err := NewRequest("switch01", "ios", "", "", "", "")
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if _, err := o.Provision(context.Background(), req); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if len(reg.groups) != 0 {
		t.Errorf("groups = %v, want none for unrecognized OS without role", reg.groups)
	}
	// No tag on the request: the default label is used.
	if len(reg.scans) != 1 || reg.scans[0] != "config%20run" {
		t.Errorf("scans = %v, want default label", reg.scans)
	}
}

func TestReplayWhenOffline(t *testing.T) {
	reg := newFakeRegistry(false)
	o := newTestOrchestrator(reg, testQueue(t), nil)

	if _, err := o.Replay(context.Background()); !registry.IsOffline(err) {
		t.Errorf("Replay() error = %v, want offline", err)
	}
}

func TestOsStaticGroup(t *testing.T) {
	tests := []struct {
		os   string
		want string
	}{
		{OSWindows, "Windows_Static"},
		{OSLinux, "Linux_Static"},
		{OSCentOS, "Linux_Static"},
		{"ios", ""},
		{OSUnknown, ""},
	}
	for _, tt := range tests {
		if got := osStaticGroup(tt.os); got != tt.want {
			t.Errorf("osStaticGroup(%q) = %q, want %q", tt.os, got, tt.want)
		}
	}
}
