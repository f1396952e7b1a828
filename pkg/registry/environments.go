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

type environmentLookup struct {
	EnvironmentID *int64 `json:"environment_id"`
}

// LookupOrCreateEnvironment ensures an environment with the given name
// exists and returns its id, following the same create-then-lookup
// pattern as node groups. An empty name yields a soft error.
func (c *Client) LookupOrCreateEnvironment(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, NewSoftError("environments.create", "environment name is empty", nil)
	}

	payload := map[string]any{
		"environment": map[string]any{
			"name":              name,
			"short_description": c.versionTag,
		},
	}
	if _, _, err := c.do(ctx, "environments.create", http.MethodPost, "/api/v2/environments", payload); err != nil {
		c.logger.Debug().Err(err).Str("environment", name).Msg("Environment create failed, falling through to lookup")
	}

	query := url.Values{"name": {name}}.Encode()
	body, _, err := c.do(ctx, "environments.lookup", http.MethodGet, "/api/v2/environments/lookup.json?"+query, nil)
	if err != nil {
		return 0, NewSoftError("environments.lookup", fmt.Sprintf("lookup of environment %q failed", name), err)
	}

	var out environmentLookup
	if err := json.Unmarshal(body, &out); err != nil || out.EnvironmentID == nil {
		return 0, NewSoftError("environments.lookup", fmt.Sprintf("no environment_id for %q in response", name), err).WithBody(body)
	}

	c.logger.Debug().Str("environment", name).Int64("environment_id", *out.EnvironmentID).Msg("Environment resolved")
	return *out.EnvironmentID, nil
}

// AddNodeToEnvironment moves a node into an environment. The appliance
// has no dedicated membership endpoint; the node record is updated
// instead. Failures are soft.
func (c *Client) AddNodeToEnvironment(ctx context.Context, nodeID, environmentID int64) error {
	payload := map[string]any{
		"node": map[string]any{
			"environment_id": strconv.FormatInt(environmentID, 10),
			"description":    c.versionTag,
		},
	}
	path := fmt.Sprintf("/api/v2/nodes/%d", nodeID)
	body, _, err := c.do(ctx, "nodes.update_environment", http.MethodPut, path, payload)
	if err != nil {
		return NewSoftError("nodes.update_environment", fmt.Sprintf("moving node %d to environment %d failed", nodeID, environmentID), err)
	}
	if strings.Contains(string(body), "error") {
		return NewSoftError("nodes.update_environment", fmt.Sprintf("appliance rejected environment update for node %d", nodeID), nil).WithBody(body)
	}
	return nil
}
