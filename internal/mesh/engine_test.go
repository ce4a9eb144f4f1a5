package mesh

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestProposeUnanimousThreeNodes(t *testing.T) {
	e := NewEngine(FixedVoter(true))
	e.RegisterNode("n1", nil)
	e.RegisterNode("n2", nil)
	e.RegisterNode("n3", nil)

	res, err := e.Propose(context.Background(), map[string]any{"action": "rotate_keys"})
	if err != nil {
		t.Fatal(err)
	}
	if res.RequiredVotes != 2 {
		t.Fatalf("required votes = %d, want 2", res.RequiredVotes)
	}
	if !res.Achieved || res.ReceivedVotes != 3 || res.ActiveNodes != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	stats := e.Snapshot()
	if stats.ConsensusAchieved != 1 || stats.ConsensusFailed != 0 {
		t.Fatalf("counters: achieved=%d failed=%d", stats.ConsensusAchieved, stats.ConsensusFailed)
	}
}

func TestProposeNoActiveNodes(t *testing.T) {
	e := NewEngine(FixedVoter(true))
	if _, err := e.Propose(context.Background(), "p"); !errors.Is(err, ErrNoActiveNodes) {
		t.Fatalf("expected ErrNoActiveNodes, got %v", err)
	}
	stats := e.Snapshot()
	if stats.ConsensusAchieved != 0 || stats.ConsensusFailed != 0 {
		t.Fatalf("counters must be untouched: %+v", stats)
	}
}

func TestProposeMixedVotes(t *testing.T) {
	// n1 and n2 approve, n3 rejects. 3 nodes * 0.67 -> required 2.
	voter := VoterFunc(func(_ context.Context, nodeID string, _ any) bool {
		return nodeID != "n3"
	})
	e := NewEngine(voter)
	e.RegisterNode("n1", nil)
	e.RegisterNode("n2", nil)
	e.RegisterNode("n3", nil)

	res, err := e.Propose(context.Background(), "p")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Achieved || res.ReceivedVotes != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProposeAdversarialVotes(t *testing.T) {
	e := NewEngine(FixedVoter(false))
	e.RegisterNode("n1", nil)
	e.RegisterNode("n2", nil)

	res, err := e.Propose(context.Background(), "p")
	if err != nil {
		t.Fatal(err)
	}
	if res.Achieved || res.ReceivedVotes != 0 || res.RequiredVotes != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if stats := e.Snapshot(); stats.ConsensusFailed != 1 {
		t.Fatalf("failed counter = %d, want 1", stats.ConsensusFailed)
	}
}

func TestSingleNodeRequiresOneVote(t *testing.T) {
	e := NewEngine(FixedVoter(true))
	e.RegisterNode("solo", nil)

	res, err := e.Propose(context.Background(), "p")
	if err != nil {
		t.Fatal(err)
	}
	// floor(1 * 0.67) = 0, clamped up to 1.
	if res.RequiredVotes != 1 || !res.Achieved {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCustomThreshold(t *testing.T) {
	e := NewEngine(FixedVoter(true), WithThreshold(1.0))
	for _, id := range []string{"a", "b", "c", "d"} {
		e.RegisterNode(id, nil)
	}
	res, err := e.Propose(context.Background(), "p")
	if err != nil {
		t.Fatal(err)
	}
	if res.RequiredVotes != 4 {
		t.Fatalf("required votes = %d, want 4", res.RequiredVotes)
	}
}

func TestReRegisterKeepsVoteCount(t *testing.T) {
	e := NewEngine(FixedVoter(true))
	e.RegisterNode("n1", map[string]any{"region": "eu"})
	if _, err := e.Propose(context.Background(), "p"); err != nil {
		t.Fatal(err)
	}

	e.RegisterNode("n1", map[string]any{"region": "us"})
	stats := e.Snapshot()
	if len(stats.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(stats.Nodes))
	}
	n := stats.Nodes[0]
	if n.VoteCount != 1 {
		t.Fatalf("vote count reset on re-registration: %d", n.VoteCount)
	}
	if n.Metadata["region"] != "us" {
		t.Fatalf("metadata not refreshed: %v", n.Metadata)
	}
}

func TestInactiveAndDeregisteredNodesExcluded(t *testing.T) {
	e := NewEngine(FixedVoter(true))
	e.RegisterNode("n1", nil)
	e.RegisterNode("n2", nil)
	e.RegisterNode("n3", nil)

	if !e.MarkInactive("n3") {
		t.Fatal("MarkInactive should find n3")
	}
	if !e.DeregisterNode("n2") {
		t.Fatal("DeregisterNode should find n2")
	}
	if e.DeregisterNode("ghost") {
		t.Fatal("DeregisterNode must report unknown nodes")
	}

	res, err := e.Propose(context.Background(), "p")
	if err != nil {
		t.Fatal(err)
	}
	if res.ActiveNodes != 1 {
		t.Fatalf("active nodes = %d, want 1", res.ActiveNodes)
	}

	// Re-registration reactivates.
	e.RegisterNode("n3", nil)
	res, err = e.Propose(context.Background(), "p")
	if err != nil {
		t.Fatal(err)
	}
	if res.ActiveNodes != 2 {
		t.Fatalf("active nodes = %d, want 2", res.ActiveNodes)
	}
}

func TestNilVoterApprovesByDefault(t *testing.T) {
	e := NewEngine(nil)
	e.RegisterNode("n1", nil)

	res, err := e.Propose(context.Background(), "p")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Achieved || res.ReceivedVotes != 1 {
		t.Fatalf("nil voter should approve unanimously: %+v", res)
	}
}

func TestConcurrentProposals(t *testing.T) {
	e := NewEngine(FixedVoter(true))
	e.RegisterNode("n1", nil)
	e.RegisterNode("n2", nil)
	e.RegisterNode("n3", nil)

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Propose(context.Background(), "p"); err != nil {
				t.Errorf("Propose: %v", err)
			}
		}()
	}
	wg.Wait()

	stats := e.Snapshot()
	if stats.ConsensusAchieved != uint64(N) {
		t.Fatalf("achieved = %d, want %d", stats.ConsensusAchieved, N)
	}
	var total uint64
	for _, n := range stats.Nodes {
		total += n.VoteCount
	}
	if total != uint64(3*N) {
		t.Fatalf("total votes = %d, want %d", total, 3*N)
	}
}
