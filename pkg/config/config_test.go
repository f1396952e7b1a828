package config

import (
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
registry:
  url: https://appliance.example.com
  service_key: abcd
  secret_key: efgh
  unknown_os_group_id: 77
fact_db:
  url: https://factdb.example.com:8081
  cert_file: /etc/nodesync/client.pem
  key_file: /etc/nodesync/client.key
  ca_file: /etc/nodesync/ca.pem
sites:
  - name: dc1
    domains:
      - name: example.com
        ssh_connection_manager_groups:
          - id: 7
            service_account: scan
            service_password: hunter2
        windows_connection_manager_groups:
          - id: 8
            service_account: winscan
            service_password: hunter2
provision:
  sleep_after_create: 45s
  ignore_hostname_substring: build-agent
queue:
  path: /var/lib/nodesync/offline-queue.json
`

func TestParseSampleConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Registry.URL != "https://appliance.example.com" {
		t.Errorf("registry url = %q", cfg.Registry.URL)
	}
	if cfg.Registry.UnknownOSGroupID != 77 {
		t.Errorf("unknown_os_group_id = %d, want 77", cfg.Registry.UnknownOSGroupID)
	}
	if cfg.Provision.SleepAfterCreate != 45*time.Second {
		t.Errorf("sleep_after_create = %v, want 45s", cfg.Provision.SleepAfterCreate)
	}

	if len(cfg.Sites) != 1 || len(cfg.Sites[0].Domains) != 1 {
		t.Fatalf("topology = %+v, want one site with one domain", cfg.Sites)
	}
	domain := cfg.Sites[0].Domains[0]
	if len(domain.SSHProfiles) != 1 || domain.SSHProfiles[0].ID != 7 {
		t.Errorf("ssh profiles = %+v", domain.SSHProfiles)
	}
	if domain.SSHProfiles[0].ServiceAccount != "scan" {
		t.Errorf("service account = %q", domain.SSHProfiles[0].ServiceAccount)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
registry:
  url: https://appliance.example.com
  service_key: a
  secret_key: b
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Registry.ProbeTimeout != 20*time.Second {
		t.Errorf("probe timeout = %v, want default 20s", cfg.Registry.ProbeTimeout)
	}
	if cfg.Queue.Path == "" {
		t.Error("queue path default not applied")
	}
	if cfg.Provision.SleepAfterCreate != 30*time.Second {
		t.Errorf("sleep_after_create = %v, want default 30s", cfg.Provision.SleepAfterCreate)
	}
	if cfg.Telemetry.Logging.Level == "" {
		t.Error("telemetry logging defaults not applied")
	}
}

func TestParseRejectsMissingCredentials(t *testing.T) {
	_, err := Parse([]byte(`
registry:
  url: https://appliance.example.com
`))
	if err == nil {
		t.Fatal("missing service/secret key should fail validation")
	}
}

func TestParseRejectsBadURL(t *testing.T) {
	_, err := Parse([]byte(`
registry:
  url: "not a url"
  service_key: a
  secret_key: b
`))
	if err == nil {
		t.Fatal("malformed registry url should fail validation")
	}
}

func TestParseRejectsDuplicateSites(t *testing.T) {
	_, err := Parse([]byte(`
registry:
  url: https://appliance.example.com
  service_key: a
  secret_key: b
sites:
  - name: dc1
  - name: dc1
`))
	if err == nil || !strings.Contains(err.Error(), "duplicate site") {
		t.Fatalf("error = %v, want duplicate site", err)
	}
}
