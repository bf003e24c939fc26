// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package controller wires every subsystem -- node inventory, accounting
// map, association tree, reservation manager, selector, spank stack,
// notifier, and metrics -- behind the single scheduler lock described in
// §5: all mutation of scheduler state happens while holding it, and no
// blocking I/O (persistence writes, notifier pushes) happens while it is
// held.
package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jontk/slurm-controller/internal/accounting"
	"github.com/jontk/slurm-controller/internal/assoc"
	"github.com/jontk/slurm-controller/internal/lifecycle"
	"github.com/jontk/slurm-controller/internal/node"
	"github.com/jontk/slurm-controller/internal/notifier"
	"github.com/jontk/slurm-controller/internal/reservation"
	"github.com/jontk/slurm-controller/internal/selector"
	"github.com/jontk/slurm-controller/internal/spank"
	"github.com/jontk/slurm-controller/internal/types"
	"github.com/jontk/slurm-controller/pkg/config"
	cerrors "github.com/jontk/slurm-controller/pkg/errors"
	"github.com/jontk/slurm-controller/pkg/logging"
	"github.com/jontk/slurm-controller/pkg/metrics"
)

// Controller is the aggregate scheduler state: one exclusive lock guards
// every field below it for the duration of a mutation.
type Controller struct {
	mu sync.Mutex

	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Registry

	nodes     *node.Model
	accounting *accounting.Map
	assocTree *assoc.Tree
	resv      *reservation.Manager
	sel       selector.Selector
	lifecyc   *lifecycle.Manager
	spank     *spank.Stack
	notify    *notifier.Notifier

	jobs     map[int32]*types.Job
	steps    map[int32]*types.Step
	nextJob  int32
	nextStep int32

	debugLevel string

	pollInterval     time.Duration
	reservationSweep time.Duration
}

// New assembles a Controller from its configuration and node inventory.
// The selector variant is chosen by cfg.Selector.
func New(cfg *config.Config, logger logging.Logger, nodes *node.Model) *Controller {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	acct := accounting.New(nodes.NumNodes(), logger)

	var sel selector.Selector
	switch cfg.Selector {
	case config.SelectorTorus:
		sel = selector.NewTorus3D(nodes, acct)
	default:
		sel = selector.NewLinear(nodes, acct)
	}

	spankStack := spank.NewStack(nil)
	spankStack.SetLogger(logger)

	return &Controller{
		cfg:              cfg,
		logger:           logger,
		metrics:          metrics.NewRegistry(cfg.ClusterName),
		nodes:            nodes,
		accounting:       acct,
		assocTree:        assoc.New(),
		resv:             reservation.New(nodes),
		sel:              sel,
		lifecyc:          lifecycle.New(sel),
		spank:            spankStack,
		notify:           notifier.New(logger),
		jobs:             make(map[int32]*types.Job),
		steps:            make(map[int32]*types.Step),
		nextJob:          1,
		nextStep:         1,
		pollInterval:     cfg.SchedulerTick,
		reservationSweep: cfg.ReservationSweep,
	}
}

// Metrics exposes the controller's metrics registry for HTTP serving.
func (c *Controller) Metrics() *metrics.Registry { return c.metrics }

// SubmitJob resolves the job's charged association (if Account is set),
// assigns a job id, stores the job as PENDING, and returns its id. The
// scheduler pass, not Submit, performs placement.
func (c *Controller) SubmitJob(job *types.Job) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if job.Account != "" {
		if err := c.resolveAssociationLocked(job); err != nil {
			return 0, err
		}
	}

	job.ID = c.nextJob
	c.nextJob++
	job.State = types.JobPending
	c.jobs[job.ID] = job

	c.metrics.JobsPending.Inc()
	return job.ID, nil
}

// resolveAssociationLocked picks the account-level association row under
// job.Account, sets job.AssocID, and enforces MaxJobs against the
// account's current non-terminal job count (§2: "submission -> association
// resolves limits").
func (c *Controller) resolveAssociationLocked(job *types.Job) error {
	rows := c.assocTree.Get(assoc.Filter{Cluster: c.cfg.ClusterName, Account: job.Account})
	var row *types.Association
	for _, r := range rows {
		if r.User == "" {
			row = r
			break
		}
	}
	if row == nil {
		return cerrors.Field(cerrors.KindInvalidAccount, "unknown account", "account", job.Account)
	}

	limits, err := c.assocTree.ResolveEffectiveLimits(row.ID)
	if err != nil {
		return err
	}
	if limits.MaxJobs > 0 {
		count := 0
		for _, j := range c.jobs {
			if j.AssocID == row.ID && !j.State.Terminal() {
				count++
			}
		}
		if count >= limits.MaxJobs {
			return cerrors.Field(cerrors.KindAccessDenied, "association job limit reached", "max_jobs", limits.MaxJobs)
		}
	}

	job.AssocID = row.ID
	return nil
}

// Job returns a submitted job by id.
func (c *Controller) Job(id int32) (*types.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	return j, ok
}

// SchedulePass attempts to place every PENDING job, in ascending
// submission-id (FIFO priority) order, against the union of up-nodes
// minus the current reservation mask for each job's principal (its charged
// account; jobs carry no user name, so user-only reservations never
// authorise them). Within
// the pass, placements accumulate: a later job in the same pass sees
// every earlier job's debit (§5 ordering guarantee).
func (c *Controller) SchedulePass() {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	defer func() { c.metrics.SchedulePassTime.Observe(time.Since(start).Seconds()) }()
	c.metrics.SchedulePasses.Inc()

	pending := c.pendingJobsLocked()
	for _, job := range pending {
		candidates := c.nodes.UpNodesBitmap()
		mask := c.resv.NodeMask(job.Account, "", c.nodes.NumNodes())
		candidates.Subtract(mask)

		if err := c.lifecyc.Begin(job, candidates, job.MinNodes, job.MaxNodes); err != nil {
			c.metrics.ScheduleFailures.Inc()
			continue
		}
		c.metrics.JobsPending.Dec()
		c.metrics.JobsRunning.Inc()
		c.notify.NotifyJob(job, notifier.Event{Type: notifier.EventAllocated, JobID: job.ID, Timestamp: time.Now()})
	}
}

func (c *Controller) pendingJobsLocked() []*types.Job {
	var pending []*types.Job
	for _, j := range c.jobs {
		if j.State == types.JobPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending
}

// CheckTimeouts forces completion on every RUNNING job whose time limit
// has elapsed, sending a timeout pre-notification first, then running the
// same completion path as a normal finish (§5 cancellation & timeouts).
func (c *Controller) CheckTimeouts(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, job := range c.jobs {
		if job.State != types.JobRunning {
			continue
		}
		if job.TimeLimit <= 0 || job.StartTime.IsZero() {
			continue
		}
		deadline := job.StartTime.Add(job.TimeLimit)
		if now.Before(deadline) {
			continue
		}

		c.notify.NotifyJob(job, notifier.Event{Type: notifier.EventImminentTimeout, JobID: job.ID, Timestamp: now})

		steps := c.stepsForJobLocked(job.ID)
		if err := c.lifecyc.BeginCompleting(job, steps); err != nil {
			continue
		}
		if err := c.lifecyc.Finish(job, types.JobTimeout); err != nil {
			continue
		}
		c.metrics.JobsRunning.Dec()
		c.notify.NotifyJob(job, notifier.Event{Type: notifier.EventCompleted, JobID: job.ID, Timestamp: now})
	}
}

func (c *Controller) stepsForJobLocked(jobID int32) []*types.Step {
	var out []*types.Step
	for _, s := range c.steps {
		if s.JobID == jobID {
			out = append(out, s)
		}
	}
	return out
}

// ExpireReservations purges reservations whose end time has passed.
func (c *Controller) ExpireReservations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resv.ExpireStale()
}

// SaveReservationState persists reservation state to the configured
// persistence directory. The scheduler lock is not taken: the dump is
// produced under the reservation manager's own lock, and the file write
// happens after that lock is released, so disk I/O never holds the
// scheduler lock (§5).
func (c *Controller) SaveReservationState() error {
	return c.resv.SaveToFile(c.cfg.PersistenceDir)
}

// LoadReservationState restores reservation state from the configured
// persistence directory, meant to be called once at startup before Run.
func (c *Controller) LoadReservationState() error {
	return c.resv.LoadFromFile(c.cfg.PersistenceDir)
}

// Run starts the background scheduler tick and reservation expiry sweep;
// it blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	schedTicker := time.NewTicker(c.pollInterval)
	defer schedTicker.Stop()
	resvTicker := time.NewTicker(c.reservationSweep)
	defer resvTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-schedTicker.C:
			c.SchedulePass()
			c.CheckTimeouts(time.Now())
		case <-resvTicker.C:
			c.ExpireReservations()
			if err := c.SaveReservationState(); err != nil {
				c.logger.Error("failed to persist reservation state", "error", err)
			}
		}
	}
}

// KillJob cancels a job in any non-terminal state, crediting the
// accounting map if it had been placed.
func (c *Controller) KillJob(id int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[id]
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "job not found")
	}
	wasRunning := job.State == types.JobRunning
	if err := c.lifecyc.Cancel(job); err != nil {
		return err
	}
	if wasRunning {
		c.metrics.JobsRunning.Dec()
	} else {
		c.metrics.JobsPending.Dec()
	}
	c.notify.NotifyJob(job, notifier.Event{Type: notifier.EventCompleted, JobID: job.ID, Timestamp: time.Now()})
	return nil
}

// RequeueJob cancels a running or pending job and resubmits it as a fresh
// PENDING job, clearing its prior placement.
func (c *Controller) RequeueJob(id int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[id]
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "job not found")
	}
	wasRunning := job.State == types.JobRunning
	if err := c.lifecyc.Cancel(job); err != nil {
		return err
	}
	if wasRunning {
		c.metrics.JobsRunning.Dec()
	} else {
		c.metrics.JobsPending.Dec()
	}

	job.State = types.JobPending
	job.NodeBitmap = nil
	job.CPUAlloc = nil
	job.MemAlloc = nil
	job.StartTime = time.Time{}
	job.EndTime = time.Time{}
	c.metrics.JobsPending.Inc()
	return nil
}

// SuspendJob moves a running job to SUSPENDED.
func (c *Controller) SuspendJob(id int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "job not found")
	}
	return c.lifecyc.Suspend(job)
}

// ResumeJob moves a suspended job back to RUNNING, refusing if doing so
// would exceed its partition's max-share.
func (c *Controller) ResumeJob(id int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "job not found")
	}
	return c.lifecyc.Resume(job)
}

// SubmitStep registers a step under its job and places it on the job's
// already-allocated nodes.
func (c *Controller) SubmitStep(step *types.Step) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[step.JobID]
	if !ok {
		return 0, cerrors.New(cerrors.KindNotFound, "job not found")
	}
	if job.State != types.JobRunning {
		return 0, cerrors.New(cerrors.KindUnexpectedMessage, "job is not running")
	}

	if step.NodeBitmap == nil {
		step.NodeBitmap = job.NodeBitmap
	}
	step.ID = c.nextStep
	c.nextStep++
	c.lifecyc.BeginStep(step)
	c.steps[step.ID] = step
	job.Steps = append(job.Steps, step.ID)
	return step.ID, nil
}

// FinishStep credits a step's debit and records its exit status.
func (c *Controller) FinishStep(id int32, exitStatus int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[id]
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "step not found")
	}
	c.lifecyc.FinishStep(step, exitStatus)
	return nil
}

// Step returns a step by id.
func (c *Controller) Step(id int32) (*types.Step, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.steps[id]
	return s, ok
}

// CheckpointAble reports whether a step currently accepts checkpoint
// requests.
func (c *Controller) CheckpointAble(stepID int32) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[stepID]
	if !ok {
		return false, cerrors.New(cerrors.KindNotFound, "step not found")
	}
	return step.CheckpointEnabled, nil
}

// CheckpointDisable turns off checkpointing for a step.
func (c *Controller) CheckpointDisable(stepID int32) error {
	return c.setCheckpointEnabled(stepID, false)
}

// CheckpointEnable turns on checkpointing for a step.
func (c *Controller) CheckpointEnable(stepID int32) error {
	return c.setCheckpointEnabled(stepID, true)
}

func (c *Controller) setCheckpointEnabled(stepID int32, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[stepID]
	if !ok {
		return cerrors.New(cerrors.KindNotFound, "step not found")
	}
	step.CheckpointEnabled = enabled
	return nil
}

// CheckpointCreate records a checkpoint event against a step, returning
// the event time. The checkpoint plugin's own on-disk format is out of
// scope (§6); this only tracks the request surface.
func (c *Controller) CheckpointCreate(stepID int32) (time.Time, error) {
	return c.recordCheckpointEvent(stepID)
}

// CheckpointVacate requests a checkpoint-and-exit for a step.
func (c *Controller) CheckpointVacate(stepID int32) (time.Time, error) {
	return c.recordCheckpointEvent(stepID)
}

// CheckpointRestart requests a restart from a step's last checkpoint.
func (c *Controller) CheckpointRestart(stepID int32) (time.Time, error) {
	return c.recordCheckpointEvent(stepID)
}

func (c *Controller) recordCheckpointEvent(stepID int32) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[stepID]
	if !ok {
		return time.Time{}, cerrors.New(cerrors.KindNotFound, "step not found")
	}
	if !step.CheckpointEnabled {
		return time.Time{}, cerrors.New(cerrors.KindUnexpectedMessage, "checkpointing is disabled for this step")
	}
	step.LastCheckpoint = time.Now()
	return step.LastCheckpoint, nil
}

// CheckpointError records a checkpoint failure reported by the task
// launcher.
func (c *Controller) CheckpointError(stepID int32, code int, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.steps[stepID]; !ok {
		return cerrors.New(cerrors.KindNotFound, "step not found")
	}
	c.logger.Error("checkpoint error reported", "step_id", stepID, "code", code, "message", message)
	return nil
}

// UpdateNodeState changes a node's administrative state (e.g. DRAIN, DOWN,
// RESUME).
func (c *Controller) UpdateNodeState(name string, state types.NodeState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes.SetNodeState(name, state)
}

// UpdatePartition applies a partial update to a partition's scheduling
// policy fields. Nil fields are left unchanged.
func (c *Controller) UpdatePartition(name string, maxShare *int, force *bool, priority *int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	part, err := c.nodes.Partition(name)
	if err != nil {
		return err
	}
	if maxShare != nil {
		part.MaxShare = *maxShare
	}
	if force != nil {
		part.Force = *force
	}
	if priority != nil {
		part.Priority = *priority
	}
	return nil
}

// CreateReservation creates a new reservation.
func (c *Controller) CreateReservation(req reservation.CreateRequest) (*types.Reservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resv.Create(req)
}

// UpdateReservation updates an existing reservation by name.
func (c *Controller) UpdateReservation(name string, req reservation.CreateRequest) (*types.Reservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resv.Update(name, req)
}

// DeleteReservation removes a reservation by name.
func (c *Controller) DeleteReservation(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resv.Delete(name)
}

// ShowReservation returns a reservation by name.
func (c *Controller) ShowReservation(name string) (*types.Reservation, error) {
	return c.resv.Show(name)
}

// ListReservations returns every live reservation.
func (c *Controller) ListReservations() []*types.Reservation {
	return c.resv.List()
}

// SetDebugLevel changes the controller's runtime log level.
func (c *Controller) SetDebugLevel(level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debugLevel = level
	c.logger.Info("debug level changed", "level", level)
}

// DebugLevel returns the controller's current log level.
func (c *Controller) DebugLevel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debugLevel
}

// Ping reports that the controller is alive and responsive.
func (c *Controller) Ping() bool { return true }

// Takeover promotes this controller to primary. Backup/primary failover
// coordination is out of scope (§1); a single controller instance is
// always already primary, so this always succeeds.
func (c *Controller) Takeover() error { return nil }
