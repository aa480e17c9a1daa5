// Package failover drives a manual leadership change through the DCS.
package failover

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/dcs"
	"github.com/Ajpantuso/hactl/internal/util"
)

// ErrAborted is returned when the operator declines, or cannot be asked, to
// confirm an unforced failover.
var ErrAborted = errors.New("failover aborted")

// Request names the leader expected to step down and the member to take
// over. A nil field is asked for through the Prompter, defaulting to the
// observed value. An empty Candidate lets any member take over.
type Request struct {
	Leader    *string
	Candidate *string
	Force     bool
}

type Result struct {
	Scope          string
	PreviousLeader string
	Candidate      string
	NewLeader      string
	Cluster        *cluster.Cluster
}

type Orchestrator struct {
	dcs   dcs.DCS
	cfg   *OrchestratorConfig
	state State
}

func New(d dcs.DCS, opts ...OrchestratorOption) *Orchestrator {
	var cfg OrchestratorConfig
	cfg.Options(opts...)
	cfg.Default()

	return &Orchestrator{
		dcs: d,
		cfg: &cfg,
	}
}

// State is the state reached by the last Run.
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	o.state = StateIdle
	scope := o.dcs.Scope()

	c, err := o.dcs.GetCluster(ctx)
	if err != nil {
		return nil, err
	}

	leader, candidate, err := o.validate(scope, c, req)
	if err != nil {
		o.outcome(scope, "rejected")
		return nil, err
	}

	if o.cfg.Topology != nil {
		o.cfg.Topology(c)
	}
	if !req.Force {
		if err := o.confirm(scope, leader); err != nil {
			o.outcome(scope, "aborted")
			return nil, err
		}
	}

	o.cfg.Logger.Infow("Requesting failover",
		"scope", scope,
		"leader", leader,
		"candidate", candidate,
	)
	if err := o.dcs.SetFailoverValue(ctx, cluster.FormatFailover(leader, candidate), cluster.AnyVersion); err != nil {
		return nil, fmt.Errorf("failed to write failover request: %w", err)
	}
	o.transition(StateRequested, c)

	c, err = o.await(ctx, func(c *cluster.Cluster) bool { return !c.HasFailover() })
	if err != nil {
		return nil, o.timeout(scope, err, util.FailoverTimeout, "failover request was not cleared", leader, c)
	}
	o.transition(StateKeyCleared, c)

	c, err = o.await(ctx, func(c *cluster.Cluster) bool { return c.Leader != nil })
	if err != nil {
		return nil, o.timeout(scope, err, util.LeaderElectionTimeout, "no leader emerged", candidate, c)
	}
	o.transition(StateLeaderKnown, c)

	result := &Result{
		Scope:          scope,
		PreviousLeader: leader,
		Candidate:      candidate,
		NewLeader:      c.LeaderName(),
		Cluster:        c,
	}
	o.cfg.Logger.Infow("Failover complete",
		"scope", scope,
		"previous_leader", leader,
		"new_leader", result.NewLeader,
	)
	o.transition(StateComplete, c)
	o.outcome(scope, "complete")
	return result, nil
}

// validate resolves the declared leader and candidate against c.
func (o *Orchestrator) validate(scope string, c *cluster.Cluster, req Request) (string, string, error) {
	if c.Leader == nil {
		return "", "", &util.ProtocolViolationError{
			Kind:   util.NoLeader,
			Scope:  scope,
			Reason: "cluster has no leader, failover is not possible",
		}
	}

	observed := c.LeaderName()
	leader, err := o.resolve(req.Leader, "Master", observed)
	if err != nil {
		return "", "", err
	}
	if leader != observed {
		return "", "", &util.ProtocolViolationError{
			Kind:     util.LeaderMismatch,
			Scope:    scope,
			Expected: leader,
			Observed: observed,
			Reason:   "declared leader is not the current leader",
		}
	}

	candidates := c.Candidates()
	label := fmt.Sprintf("Candidate %v", candidates)
	candidate, err := o.resolve(req.Candidate, label, "")
	if err != nil {
		return "", "", err
	}
	if candidate != "" && !slices.Contains(candidates, candidate) {
		return "", "", &util.ProtocolViolationError{
			Kind:     util.UnknownCandidate,
			Scope:    scope,
			Expected: strings.Join(candidates, ","),
			Observed: candidate,
			Reason:   "candidate is not a member of the cluster",
		}
	}
	return leader, candidate, nil
}

func (o *Orchestrator) resolve(value *string, label, def string) (string, error) {
	if value != nil {
		return *value, nil
	}
	if o.cfg.Prompter == nil {
		return def, nil
	}
	answer, err := o.cfg.Prompter.Prompt(label, def)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return answer, nil
}

func (o *Orchestrator) confirm(scope, leader string) error {
	if o.cfg.Prompter == nil {
		return ErrAborted
	}
	ok, err := o.cfg.Prompter.Confirm(fmt.Sprintf(
		"Are you sure you want to failover cluster %s, demoting current master %s?", scope, leader))
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if !ok {
		return ErrAborted
	}
	return nil
}

// await polls snapshots until done holds. Loads that fail are retried until
// the deadline. The last snapshot seen is returned in either case.
func (o *Orchestrator) await(ctx context.Context, done func(*cluster.Cluster) bool) (*cluster.Cluster, error) {
	var last *cluster.Cluster
	err := dcs.PollUntil(ctx, o.cfg.Interval, o.cfg.Timeout, func(ctx context.Context) (bool, error) {
		c, err := o.dcs.GetCluster(ctx)
		if err != nil {
			o.cfg.Logger.Warnw("Failed to load cluster while waiting", "scope", o.dcs.Scope(), "error", err)
			return false, nil
		}
		last = c
		return done(c), nil
	})
	return last, err
}

func (o *Orchestrator) timeout(scope string, err error, kind util.ViolationKind, reason, expected string, c *cluster.Cluster) error {
	if !errors.Is(err, dcs.ErrPollTimeout) {
		return err
	}
	o.transition(StateTimedOut, c)
	o.outcome(scope, string(kind))

	violation := &util.ProtocolViolationError{
		Kind:     kind,
		Scope:    scope,
		Expected: expected,
		Reason:   fmt.Sprintf("%s within %s", reason, o.cfg.Timeout),
	}
	if c != nil {
		if c.Failover != nil {
			violation.Observed = cluster.FormatFailover(c.Failover.Leader, c.Failover.Candidate)
		} else {
			violation.Observed = c.LeaderName()
		}
	}
	return violation
}

func (o *Orchestrator) transition(to State, c *cluster.Cluster) {
	from := o.state
	o.state = to
	o.cfg.Logger.Debugw("Failover state changed",
		"scope", o.dcs.Scope(),
		"from", from.String(),
		"to", to.String(),
	)
	if o.cfg.Reporter != nil {
		o.cfg.Reporter(Transition{From: from, To: to, At: time.Now(), Cluster: c})
	}
}

func (o *Orchestrator) outcome(scope, outcome string) {
	o.cfg.Metrics.FailoversTotal.WithLabelValues(scope, outcome).Inc()
}
