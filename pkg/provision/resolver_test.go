package provision

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/pkg/config"
	"github.com/nodesync/nodesync/pkg/registry"
)

type groupRecorder struct {
	names []string
	rules []string
	err   error
}

func (g *groupRecorder) LookupOrCreateGroup(_ context.Context, name, rule string) (int64, error) {
	g.names = append(g.names, name)
	g.rules = append(g.rules, rule)
	return 1, g.err
}

func testTopology() []config.Site {
	return []config.Site{
		{
			Name: "dc1",
			Domains: []config.Domain{
				{
					Name:            "example.com",
					SSHProfiles:     []registry.ConnectionProfile{{ID: 7, ServiceAccount: "scan"}},
					WindowsProfiles: []registry.ConnectionProfile{{ID: 8, ServiceAccount: "winscan"}},
				},
			},
		},
	}
}

func TestResolveFirstMatch(t *testing.T) {
	groups := &groupRecorder{}
	r := NewResolver(testTopology(), groups, zerolog.Nop())

	got := r.Resolve(context.Background(), "host1.example.com", "linux", "dc1")
	if got.ID != 7 {
		t.Errorf("profile id = %d, want 7", got.ID)
	}
	if len(groups.names) != 1 || groups.names[0] != "example.com" {
		t.Errorf("domain groups ensured = %v, want [example.com]", groups.names)
	}
	if groups.rules[0] != ".+example.com$" {
		t.Errorf("domain group rule = %q, want .+example.com$", groups.rules[0])
	}
}

func TestResolveWrongDatacenter(t *testing.T) {
	r := NewResolver(testTopology(), &groupRecorder{}, zerolog.Nop())

	got := r.Resolve(context.Background(), "host1.example.com", "linux", "dc2")
	if got != registry.DefaultProfile() {
		t.Errorf("profile = %+v, want default", got)
	}
}

func TestResolveWindowsProfileList(t *testing.T) {
	r := NewResolver(testTopology(), &groupRecorder{}, zerolog.Nop())

	got := r.Resolve(context.Background(), "host1.example.com", "Windows", "dc1")
	if got.ID != 8 {
		t.Errorf("windows profile id = %d, want 8", got.ID)
	}
}

func TestResolveMissingInputs(t *testing.T) {
	groups := &groupRecorder{}
	r := NewResolver(testTopology(), groups, zerolog.Nop())

	if got := r.Resolve(context.Background(), "", "linux", "dc1"); got != registry.DefaultProfile() {
		t.Errorf("empty hostname: profile = %+v, want default", got)
	}
	if got := r.Resolve(context.Background(), "host1.example.com", "", "dc1"); got != registry.DefaultProfile() {
		t.Errorf("empty os: profile = %+v, want default", got)
	}
	if len(groups.names) != 0 {
		t.Errorf("no domain group should be ensured on short-circuit, got %v", groups.names)
	}
}

func TestResolveSuffixMatchIsCaseInsensitive(t *testing.T) {
	r := NewResolver(testTopology(), &groupRecorder{}, zerolog.Nop())

	got := r.Resolve(context.Background(), "HOST1.Example.COM", "linux", "dc1")
	if got.ID != 7 {
		t.Errorf("profile id = %d, want 7", got.ID)
	}
}

func TestResolveFirstDomainWins(t *testing.T) {
	sites := []config.Site{
		{
			Name: "dc1",
			Domains: []config.Domain{
				{Name: "prod.example.com", SSHProfiles: []registry.ConnectionProfile{{ID: 2}}},
				{Name: "example.com", SSHProfiles: []registry.ConnectionProfile{{ID: 3}}},
			},
		},
	}
	r := NewResolver(sites, &groupRecorder{}, zerolog.Nop())

	// Matches both domains; declaration order decides, not specificity.
	if got := r.Resolve(context.Background(), "db1.prod.example.com", "linux", "dc1"); got.ID != 2 {
		t.Errorf("profile id = %d, want 2 (first declared domain)", got.ID)
	}
	if got := r.Resolve(context.Background(), "web1.example.com", "linux", "dc1"); got.ID != 3 {
		t.Errorf("profile id = %d, want 3", got.ID)
	}
}

func TestResolveEmptyProfileList(t *testing.T) {
	sites := []config.Site{
		{
			Name: "dc1",
			Domains: []config.Domain{
				{Name: "example.com", SSHProfiles: []registry.ConnectionProfile{{ID: 7}}},
			},
		},
	}
	groups := &groupRecorder{}
	r := NewResolver(sites, groups, zerolog.Nop())

	// Windows list is empty for the matching domain.
	if got := r.Resolve(context.Background(), "win1.example.com", "windows", "dc1"); got != registry.DefaultProfile() {
		t.Errorf("profile = %+v, want default for empty list", got)
	}
	// A domain that contributes no profile contributes no group either.
	if len(groups.names) != 0 {
		t.Errorf("domain groups ensured = %v, want none", groups.names)
	}
}

func TestResolveEmptyListFallsThroughToNextDomain(t *testing.T) {
	sites := []config.Site{
		{
			Name: "dc1",
			Domains: []config.Domain{
				{Name: "a.example.com", SSHProfiles: []registry.ConnectionProfile{{ID: 5}}},
				{Name: "example.com", WindowsProfiles: []registry.ConnectionProfile{{ID: 9}}},
			},
		},
	}
	groups := &groupRecorder{}
	r := NewResolver(sites, groups, zerolog.Nop())

	// a.example.com matches first but has no windows list; the search
	// moves on to example.com, which supplies the profile and the group.
	got := r.Resolve(context.Background(), "win1.a.example.com", "windows", "dc1")
	if got.ID != 9 {
		t.Errorf("profile id = %d, want 9 from the next matching domain", got.ID)
	}
	if len(groups.names) != 1 || groups.names[0] != "example.com" {
		t.Errorf("domain groups ensured = %v, want [example.com]", groups.names)
	}
}

func TestResolveGroupFailureDoesNotAffectSelection(t *testing.T) {
	groups := &groupRecorder{err: context.DeadlineExceeded}
	r := NewResolver(testTopology(), groups, zerolog.Nop())

	if got := r.Resolve(context.Background(), "host1.example.com", "linux", "dc1"); got.ID != 7 {
		t.Errorf("profile id = %d, want 7 despite group failure", got.ID)
	}
}
