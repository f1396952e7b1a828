package provision

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/pkg/queue"
	"github.com/nodesync/nodesync/pkg/registry"
	"github.com/nodesync/nodesync/pkg/report"
	"github.com/nodesync/nodesync/pkg/telemetry"
)

// Outcome is the result of one provisioning attempt.
type Outcome string

const (
	// OutcomeProvisioned means the node was processed against a
	// reachable Registry.
	OutcomeProvisioned Outcome = "provisioned"
	// OutcomeQueuedOffline means the Registry was unreachable and the
	// request was captured in the offline queue.
	OutcomeQueuedOffline Outcome = "queued_offline"
	// OutcomeFailed means processing hit a hard error.
	OutcomeFailed Outcome = "failed"
)

// Static node groups for recognized OS families.
const (
	linuxStaticGroup   = "Linux_Static"
	windowsStaticGroup = "Windows_Static"
)

// RegistryAPI is the slice of the Registry client the orchestrator
// uses. Defined here so tests can substitute a hand-written fake.
type RegistryAPI interface {
	Probe(ctx context.Context) bool
	LookupOrCreateGroup(ctx context.Context, name, rule string) (int64, error)
	LookupOrCreateEnvironment(ctx context.Context, name string) (int64, error)
	LookupOrCreateNode(ctx context.Context, hostname, osName, datacenter string) (registry.Node, error)
	AddNodeToGroup(ctx context.Context, nodeID, groupID int64) (bool, error)
	AddNodeToEnvironment(ctx context.Context, nodeID, environmentID int64) error
	StartScan(ctx context.Context, nodeID int64, label string) (int64, error)
}

// OfflineQueue is the durable backlog the orchestrator falls back to
// when the Registry is unreachable.
type OfflineQueue interface {
	HasBacklog() bool
	Enqueue(entry queue.Entry) error
	DrainAndReplay(ctx context.Context, fn queue.ReplayFunc) (queue.ReplayResult, error)
}

// Record is one provisioning attempt as persisted to history.
type Record struct {
	RunID     string
	Hostname  string
	OS        string
	Outcome   Outcome
	NodeID    int64
	Created   bool
	Replayed  bool
	ScanJobID int64
	Error     string
	Duration  time.Duration
	At        time.Time
}

// Recorder persists provisioning history. A nil Recorder disables
// history.
type Recorder interface {
	RecordProvision(ctx context.Context, rec Record) error
}

// Options carries the orchestrator's collaborators and tunables.
type Options struct {
	Registry RegistryAPI
	Queue    OfflineQueue
	History  Recorder
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
	Logger   zerolog.Logger

	// SleepAfterCreate delays the first scan of a newly created node.
	// Pre-existing nodes are scanned immediately.
	SleepAfterCreate time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// Orchestrator drives the provisioning workflow for one run at a time.
// It is single-threaded by design; callers do not invoke it
// concurrently.
type Orchestrator struct {
	registry RegistryAPI
	queue    OfflineQueue
	history  Recorder
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	logger   zerolog.Logger

	sleepAfterCreate time.Duration
	sleep            func(ctx context.Context, d time.Duration)
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Orchestrator{
		registry:         opts.Registry,
		queue:            opts.Queue,
		history:          opts.History,
		metrics:          opts.Metrics,
		tracer:           opts.Tracer,
		logger:           opts.Logger.With().Str("component", "orchestrator").Logger(),
		sleepAfterCreate: opts.SleepAfterCreate,
		sleep:            sleep,
	}
}

// Provision runs the full workflow for one request: probe the Registry,
// queue the request if it is unreachable, otherwise replay any offline
// backlog first and then process the current request. Queuing failures
// are logged and swallowed; the caller's own run already happened, and
// losing one provisioning event is preferable to failing it.
func (o *Orchestrator) Provision(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	ctx, span := o.tracer.StartProvisionSpan(ctx, req.RunID, req.Hostname)
	defer span.End()

	logger := o.logger.With().
		Str("run_id", req.RunID).
		Str("hostname", req.Hostname).
		Logger()

	if !o.registry.Probe(ctx) {
		logger.Warn().Msg("registry unreachable, queueing request offline")
		entry := req.QueueEntry()
		if entry.Tag == "" {
			entry.Tag = defaultScanLabel
		}
		entry.Tag = report.OfflineTag(entry.Tag)
		if err := o.queue.Enqueue(entry); err != nil {
			logger.Error().Err(err).Msg("offline enqueue failed, provisioning event lost")
		}
		o.record(ctx, req, Record{Outcome: OutcomeQueuedOffline}, time.Since(start))
		return OutcomeQueuedOffline, nil
	}

	if o.queue.HasBacklog() {
		o.replayBacklog(ctx, logger)
	}

	rec, err := o.provisionOne(ctx, req, false)
	o.record(ctx, req, rec, time.Since(start))
	if err != nil {
		telemetry.RecordError(span, err)
		return OutcomeFailed, err
	}
	telemetry.RecordSuccess(span)
	return OutcomeProvisioned, nil
}

// Replay drains and replays the offline backlog without processing a
// current request. Used by the drain command.
func (o *Orchestrator) Replay(ctx context.Context) (queue.ReplayResult, error) {
	if !o.registry.Probe(ctx) {
		return queue.ReplayResult{}, registry.NewOfflineError("probe", "registry unreachable", nil)
	}
	return o.queue.DrainAndReplay(ctx, o.replayEntry)
}

func (o *Orchestrator) replayBacklog(ctx context.Context, logger zerolog.Logger) {
	ctx, span := o.tracer.StartReplaySpan(ctx, 0)
	defer span.End()

	res, err := o.queue.DrainAndReplay(ctx, o.replayEntry)
	if err != nil {
		logger.Error().Err(err).Msg("offline queue replay aborted")
		telemetry.RecordError(span, err)
		return
	}
	logger.Info().
		Int("replayed", res.Replayed).
		Int("failed", res.Failed).
		Bool("clean", res.Clean).
		Msg("offline backlog replayed")
	telemetry.RecordSuccess(span)
}

// replayEntry provisions one queued entry using the facts captured at
// enqueue time. Hard errors propagate so the queue keeps the batch.
func (o *Orchestrator) replayEntry(ctx context.Context, e queue.Entry) error {
	req := FromQueueEntry(e)
	start := time.Now()
	rec, err := o.provisionOne(ctx, req, true)
	o.record(ctx, req, rec, time.Since(start))
	return err
}

// provisionOne executes steps 4-6 of the workflow for a single node.
// Group and environment failures are soft; only node lookup/creation
// failures are hard.
func (o *Orchestrator) provisionOne(ctx context.Context, req Request, replayed bool) (Record, error) {
	rec := Record{Outcome: OutcomeProvisioned, Replayed: replayed}
	logger := o.logger.With().
		Str("run_id", req.RunID).
		Str("hostname", req.Hostname).
		Bool("replayed", replayed).
		Logger()

	var groupIDs []int64

	if req.Role != "" {
		if id, err := o.registry.LookupOrCreateGroup(ctx, req.Role, ""); err != nil {
			logger.Warn().Err(err).Str("group", req.Role).Msg("role node group unresolved")
		} else {
			groupIDs = append(groupIDs, id)
		}
	}

	if staticGroup := osStaticGroup(req.OS); staticGroup != "" {
		if id, err := o.registry.LookupOrCreateGroup(ctx, staticGroup, ""); err != nil {
			logger.Warn().Err(err).Str("group", staticGroup).Msg("static node group unresolved")
		} else {
			groupIDs = append(groupIDs, id)
		}
	}

	envName := req.EnvironmentName()
	envID, envErr := o.registry.LookupOrCreateEnvironment(ctx, envName)
	if envErr != nil {
		logger.Warn().Err(envErr).Str("environment", envName).Msg("environment unresolved")
	}

	node, err := o.registry.LookupOrCreateNode(ctx, req.Hostname, req.OS, req.Datacenter)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = err.Error()
		logger.Error().Err(err).Msg("node lookup/creation failed")
		return rec, err
	}
	rec.NodeID = node.ID
	rec.Created = node.Created
	logger.Info().Int64("node_id", node.ID).Bool("created", node.Created).Msg("node resolved")

	for _, groupID := range groupIDs {
		already, err := o.registry.AddNodeToGroup(ctx, node.ID, groupID)
		switch {
		case err != nil:
			logger.Warn().Err(err).Int64("group_id", groupID).Msg("group membership not added")
		case already:
			logger.Debug().Int64("group_id", groupID).Msg("node already in group")
		}
	}

	if envErr == nil {
		if err := o.registry.AddNodeToEnvironment(ctx, node.ID, envID); err != nil {
			logger.Warn().Err(err).Int64("environment_id", envID).Msg("environment membership not set")
		}
	}

	// Freshly created nodes need a moment before their first scan so
	// the appliance finishes registering them.
	if node.Created && o.sleepAfterCreate > 0 {
		logger.Debug().Dur("sleep", o.sleepAfterCreate).Msg("waiting before first scan of new node")
		o.sleep(ctx, o.sleepAfterCreate)
	}

	label := req.Tag
	if label == "" {
		label = defaultScanLabel
	}
	jobID, err := o.registry.StartScan(ctx, node.ID, label)
	if err != nil {
		o.metrics.RecordScan(false)
		logger.Error().Err(err).Msg("scan not started")
	} else {
		rec.ScanJobID = jobID
		o.metrics.RecordScan(true)
		logger.Info().Int64("job_id", jobID).Msg("scan started")
	}

	return rec, nil
}

// record stamps the record with request identity and emits metrics and
// history.
func (o *Orchestrator) record(ctx context.Context, req Request, rec Record, dur time.Duration) {
	rec.RunID = req.RunID
	rec.Hostname = req.Hostname
	rec.OS = req.OS
	rec.Duration = dur
	rec.At = time.Now().UTC()

	o.metrics.RecordProvision(string(rec.Outcome), dur)
	if o.history != nil {
		if err := o.history.RecordProvision(ctx, rec); err != nil {
			o.logger.Warn().Err(err).Str("run_id", rec.RunID).Msg("history not recorded")
		}
	}
}

// osStaticGroup returns the static node group for a recognized OS
// family, or "" for unrecognized systems.
func osStaticGroup(osName string) string {
	switch osName {
	case OSWindows:
		return windowsStaticGroup
	case OSLinux, OSCentOS:
		return linuxStaticGroup
	default:
		return ""
	}
}

// defaultScanLabel labels scans for requests carrying no change tag.
// Pre-encoded the way scan labels travel on the wire.
const defaultScanLabel = "config%20run"

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
