package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type scanJobResponse struct {
	JobID *int64 `json:"job_id"`
}

// StartScan kicks off an asynchronous node scan server-side, labelled
// with the change tag shown in the appliance's job UI. label must
// already be URL-encoded (see report.ChangeTag). A response without a
// job id is a soft error: the batch continues, the miss is logged.
func (c *Client) StartScan(ctx context.Context, nodeID int64, label string) (int64, error) {
	path := fmt.Sprintf("/api/v2/nodes/%d/start_scan.json?label=%s", nodeID, label)
	body, _, err := c.do(ctx, "nodes.start_scan", http.MethodPost, path, nil)
	if err != nil {
		return 0, NewSoftError("nodes.start_scan", fmt.Sprintf("starting scan of node %d failed", nodeID), err)
	}

	var out scanJobResponse
	if err := json.Unmarshal(body, &out); err != nil || out.JobID == nil {
		return 0, NewSoftError("nodes.start_scan", fmt.Sprintf("no job_id in scan response for node %d", nodeID), err).WithBody(body)
	}
	return *out.JobID, nil
}

// StartVulnScan kicks off a vulnerability scan for a node. The
// capability exists on the appliance but the orchestrator does not call
// it; vulnerability analysis is handled elsewhere.
func (c *Client) StartVulnScan(ctx context.Context, nodeID int64) (int64, error) {
	path := fmt.Sprintf("/api/v2/jobs.json?type=node_vulns&vuln_limit=5000&vuln_severity=5&type_id=%d", nodeID)
	body, _, err := c.do(ctx, "jobs.node_vulns", http.MethodPost, path, nil)
	if err != nil {
		return 0, NewSoftError("jobs.node_vulns", fmt.Sprintf("starting vulnerability scan of node %d failed", nodeID), err)
	}

	var out scanJobResponse
	if err := json.Unmarshal(body, &out); err != nil || out.JobID == nil {
		return 0, NewSoftError("jobs.node_vulns", fmt.Sprintf("no job_id in vulnerability scan response for node %d", nodeID), err).WithBody(body)
	}
	return *out.JobID, nil
}
