package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Node is the registry-side identity of a managed host.
type Node struct {
	// ID is the appliance-assigned node id.
	ID int64

	// Created is true if this invocation created the node, false if it
	// pre-existed.
	Created bool
}

type nodeLookupResponse struct {
	NodeID *int64  `json:"node_id"`
	Error  *string `json:"error"`
}

// osClassification is the fixed device-type/OS/connection-medium triple
// a node is created with, keyed off its reported operating system.
type osClassification struct {
	NodeType   string
	OSFamilyID int
	OSID       int
	MediumType int
	MediumPort int

	// Recognized is false for OS values provisioned as generic network
	// devices; those nodes are additionally attached to the configured
	// unclassified node group.
	Recognized bool
}

func classifyOS(osName string) osClassification {
	switch strings.ToLower(osName) {
	case "windows":
		// Server, Windows 2012, WinRM
		return osClassification{NodeType: "SV", OSFamilyID: 1, OSID: 125, MediumType: 7, MediumPort: 5985, Recognized: true}
	case "centos", "linux":
		// Server, CentOS, SSH
		return osClassification{NodeType: "SV", OSFamilyID: 2, OSID: 231, MediumType: 3, MediumPort: 22, Recognized: true}
	default:
		// Generic network device: Firewall, Cisco ASA, SSH
		return osClassification{NodeType: "FW", OSFamilyID: 7, OSID: 731, MediumType: 3, MediumPort: 22, Recognized: false}
	}
}

// LookupOrCreateNode looks a node up by its external id (the hostname)
// and creates it when the appliance reports it as not found. Lookup is
// idempotent: the same hostname yields the same id across calls, with
// Created true only on the call that created it. Any lookup outcome
// that is neither an id nor the appliance's "Not Found" signal is a
// hard error: it indicates a configuration or connectivity problem
// serious enough to stop guessing.
func (c *Client) LookupOrCreateNode(ctx context.Context, hostname, osName, datacenter string) (Node, error) {
	query := url.Values{"external_id": {hostname}}.Encode()
	body, _, err := c.do(ctx, "nodes.lookup", http.MethodGet, "/api/v2/nodes/lookup.json?"+query, nil)
	if err != nil {
		return Node{}, NewHardError("nodes.lookup", fmt.Sprintf("lookup of node %q failed", hostname), err)
	}

	var out nodeLookupResponse
	// Unmarshal errors fall through to the hard-error default below.
	_ = json.Unmarshal(body, &out)

	switch {
	case out.NodeID != nil:
		c.logger.Info().Str("hostname", hostname).Int64("node_id", *out.NodeID).Msg("Node already exists")
		return Node{ID: *out.NodeID}, nil

	case out.Error != nil && *out.Error == "Not Found":
		id, err := c.CreateNode(ctx, hostname, osName, datacenter)
		if err != nil {
			return Node{}, err
		}
		c.logger.Info().Str("hostname", hostname).Int64("node_id", id).Msg("Node not found, created")
		return Node{ID: id, Created: true}, nil

	default:
		return Node{}, NewHardError("nodes.lookup", fmt.Sprintf("unrecognized lookup response for node %q", hostname), nil).WithBody(body)
	}
}

// CreateNode creates a node in the appliance. The connection profile is
// resolved from the site topology (falling back to the default profile
// when no resolver is attached), the node is classified by OS, and
// unrecognized-OS nodes are attached to the unclassified node group. A
// creation response without an id is a hard error.
func (c *Client) CreateNode(ctx context.Context, hostname, osName, datacenter string) (int64, error) {
	profile := DefaultProfile()
	if c.profiles != nil {
		profile = c.profiles.Resolve(ctx, hostname, osName, datacenter)
	}

	// Test appliances scan a fixed pair of reachable fixture hosts
	// instead of whatever hostname the report carried.
	mediumHostname := hostname
	if c.fixtures.Enabled {
		switch strings.ToLower(c.fixtures.OS) {
		case "windows":
			mediumHostname = c.fixtures.WindowsHostname
		case "centos", "linux":
			mediumHostname = c.fixtures.LinuxHostname
		}
	}

	class := classifyOS(osName)
	node := map[string]any{
		"name":                        hostname,
		"external_id":                 hostname,
		"medium_hostname":             mediumHostname,
		"short_description":           c.versionTag,
		"connection_manager_group_id": strconv.FormatInt(profile.ID, 10),
		"medium_username":             profile.ServiceAccount,
		"medium_password":             profile.ServicePassword,
		"node_type":                   class.NodeType,
		"operating_system_family_id":  class.OSFamilyID,
		"operating_system_id":         class.OSID,
		"medium_type":                 class.MediumType,
		"medium_port":                 class.MediumPort,
	}

	c.logger.Info().
		Str("hostname", hostname).
		Str("os", osName).
		Int64("connection_manager_group_id", profile.ID).
		Msg("Creating node")

	body, _, err := c.do(ctx, "nodes.create", http.MethodPost, "/api/v2/nodes", map[string]any{"node": node})
	if err != nil {
		return 0, NewHardError("nodes.create", fmt.Sprintf("creation of node %q failed", hostname), err)
	}

	var out struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == nil {
		return 0, NewHardError("nodes.create", fmt.Sprintf("no id in creation response for node %q", hostname), err).WithBody(body)
	}

	if !class.Recognized && c.unknownOSGroupID != 0 {
		if _, err := c.AddNodeToGroup(ctx, *out.ID, c.unknownOSGroupID); err != nil {
			c.logger.Warn().Err(err).Str("hostname", hostname).Msg("Failed to attach unrecognized-OS node to unclassified group")
		}
	}

	return *out.ID, nil
}
