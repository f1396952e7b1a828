package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type nodeGroupLookup struct {
	NodeGroupID *int64 `json:"node_group_id"`
}

// LookupOrCreateGroup ensures a node group with the given name exists
// and returns its id. Creation failures are ignored (the group most
// likely already exists); the follow-up name lookup is authoritative
// either way. An empty name yields a soft error so the caller can skip
// grouping without aborting the workflow. rule is an optional node-rule
// expression that auto-attaches matching hostnames to the group.
func (c *Client) LookupOrCreateGroup(ctx context.Context, name, rule string) (int64, error) {
	if name == "" {
		return 0, NewSoftError("node_groups.create", "node group name is empty", nil)
	}

	payload := map[string]any{
		"node_group": map[string]any{
			"name":        name,
			"description": c.versionTag,
			"node_rules":  rule,
		},
	}
	if _, _, err := c.do(ctx, "node_groups.create", http.MethodPost, "/api/v2/node_groups", payload); err != nil {
		// Duplicate-name creates come back as errors too; the lookup
		// below decides whether anything is actually wrong.
		c.logger.Debug().Err(err).Str("node_group", name).Msg("Node group create failed, falling through to lookup")
	}

	query := url.Values{"name": {name}}.Encode()
	body, _, err := c.do(ctx, "node_groups.lookup", http.MethodGet, "/api/v2/node_groups/lookup.json?"+query, nil)
	if err != nil {
		return 0, NewSoftError("node_groups.lookup", fmt.Sprintf("lookup of node group %q failed", name), err)
	}

	var out nodeGroupLookup
	if err := json.Unmarshal(body, &out); err != nil || out.NodeGroupID == nil {
		return 0, NewSoftError("node_groups.lookup", fmt.Sprintf("no node_group_id for %q in response", name), err).WithBody(body)
	}

	c.logger.Debug().Str("node_group", name).Int64("node_group_id", *out.NodeGroupID).Msg("Node group resolved")
	return *out.NodeGroupID, nil
}

// AddNodeToGroup attaches a node to a node group. The appliance reports
// re-adding an existing member as an error-shaped body; that case is
// returned as alreadyMember so the caller can log it apart from real
// failures. All failures are soft.
func (c *Client) AddNodeToGroup(ctx context.Context, nodeID, groupID int64) (alreadyMember bool, err error) {
	path := fmt.Sprintf("/api/v2/node_groups/%d/add_node.json?node_id=%d", groupID, nodeID)
	body, _, err := c.do(ctx, "node_groups.add_node", http.MethodPost, path, nil)
	if err != nil {
		return false, NewSoftError("node_groups.add_node", fmt.Sprintf("adding node %d to group %d failed", nodeID, groupID), err)
	}
	if strings.Contains(string(body), "Node is already in the group") {
		return true, nil
	}
	return false, nil
}
