package mesh

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"kenmesh.org/internal/obs"
)

// DefaultThreshold is the fraction of active nodes whose affirmative vote
// accepts a proposal.
const DefaultThreshold = 0.67

// ErrNoActiveNodes means a proposal could not be tallied at all; the
// outcome counters stay untouched.
var ErrNoActiveNodes = errors.New("mesh: no active nodes")

// NodeStatus marks registry membership state.
type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeInactive NodeStatus = "inactive"
)

// NodeInfo is a read-only snapshot of one registered node.
type NodeInfo struct {
	ID        string         `json:"id"`
	Status    NodeStatus     `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	VoteCount uint64         `json:"vote_count"`
	LastSeen  time.Time      `json:"last_seen"`
}

// Result reports one proposal's tally. A failed consensus is an ordinary
// outcome, not an error.
type Result struct {
	Achieved      bool `json:"achieved"`
	ReceivedVotes int  `json:"received_votes"`
	RequiredVotes int  `json:"required_votes"`
	ActiveNodes   int  `json:"active_nodes"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	ActiveNodes       int        `json:"active_nodes"`
	Threshold         float64    `json:"threshold"`
	ConsensusAchieved uint64     `json:"consensus_achieved"`
	ConsensusFailed   uint64     `json:"consensus_failed"`
	Nodes             []NodeInfo `json:"nodes"`
}

type node struct {
	id       string
	metadata map[string]any
	status   NodeStatus
	lastSeen time.Time
	votes    atomic.Uint64
}

// Engine owns the node registry and per-proposal threshold tallies.
// Proposals snapshot the active set under a read lock, so concurrent
// Propose calls proceed in parallel; per-node vote counts are atomic.
type Engine struct {
	mu    sync.RWMutex
	nodes map[string]*node

	voter     Voter
	threshold float64
	now       func() time.Time

	achieved atomic.Uint64
	failed   atomic.Uint64
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithThreshold overrides the consensus fraction (default 0.67). The
// threshold is fixed per engine, not per call.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t <= 1 {
			e.threshold = t
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs an engine that consults voter for every active
// node on each proposal. A nil voter falls back to unanimous approval.
func NewEngine(voter Voter, opts ...Option) *Engine {
	if voter == nil {
		voter = FixedVoter(true)
	}
	e := &Engine{
		nodes:     make(map[string]*node),
		voter:     voter,
		threshold: DefaultThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterNode upserts a node. Re-registering refreshes metadata,
// last_seen and status but never resets the accumulated vote count.
func (e *Engine) RegisterNode(nodeID string, metadata map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[nodeID]
	if !ok {
		n = &node{id: nodeID}
		e.nodes[nodeID] = n
	}
	n.metadata = metadata
	n.status = NodeActive
	n.lastSeen = e.now().UTC()
}

// DeregisterNode removes a node entirely. Reports whether it existed.
func (e *Engine) DeregisterNode(nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.nodes[nodeID]; !ok {
		return false
	}
	delete(e.nodes, nodeID)
	return true
}

// MarkInactive keeps the node's record but excludes it from tallies.
func (e *Engine) MarkInactive(nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[nodeID]
	if !ok {
		return false
	}
	n.status = NodeInactive
	return true
}

// Propose asks every active node for a vote and tallies the outcome
// against the threshold. required = max(1, floor(active * threshold)).
func (e *Engine) Propose(ctx context.Context, payload any) (Result, error) {
	e.mu.RLock()
	active := make([]*node, 0, len(e.nodes))
	for _, n := range e.nodes {
		if n.status == NodeActive {
			active = append(active, n)
		}
	}
	e.mu.RUnlock()

	if len(active) == 0 {
		return Result{}, ErrNoActiveNodes
	}

	received := 0
	for _, n := range active {
		if e.voter.Vote(ctx, n.id, payload) {
			received++
			n.votes.Add(1)
		}
	}

	required := int(math.Floor(float64(len(active)) * e.threshold))
	if required < 1 {
		required = 1
	}

	res := Result{
		Achieved:      received >= required,
		ReceivedVotes: received,
		RequiredVotes: required,
		ActiveNodes:   len(active),
	}
	if res.Achieved {
		e.achieved.Add(1)
		obs.ConsensusAchieved.Inc()
	} else {
		e.failed.Add(1)
		obs.ConsensusFailed.Inc()
	}
	return res, nil
}

// Snapshot returns current registry state and lifetime outcome counters.
func (e *Engine) Snapshot() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{
		Threshold:         e.threshold,
		ConsensusAchieved: e.achieved.Load(),
		ConsensusFailed:   e.failed.Load(),
		Nodes:             make([]NodeInfo, 0, len(e.nodes)),
	}
	for _, n := range e.nodes {
		if n.status == NodeActive {
			stats.ActiveNodes++
		}
		stats.Nodes = append(stats.Nodes, NodeInfo{
			ID:        n.id,
			Status:    n.status,
			Metadata:  n.metadata,
			VoteCount: n.votes.Load(),
			LastSeen:  n.lastSeen,
		})
	}
	return stats
}
