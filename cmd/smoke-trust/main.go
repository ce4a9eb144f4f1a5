package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"kenmesh.org/internal/credential"
	"kenmesh.org/internal/mesh"
	"kenmesh.org/internal/obs"
	"kenmesh.org/internal/prooflock"
	"kenmesh.org/internal/ratelimit"
	"kenmesh.org/internal/secevent"
)

// Exercises every trust-layer component end to end without a server.
func main() {
	obs.Logger().SetOutput(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events := secevent.NewLog(secevent.DefaultCapacity)
	creds := credential.NewService(credential.NewInMemory(), events)

	token, err := creds.Issue(ctx, "smoke-user", []string{"basic_access", "mesh_consensus"})
	if err != nil {
		log.Fatalf("issue credential: %v", err)
	}
	id, err := creds.Validate(ctx, token, "mesh_consensus")
	if err != nil {
		log.Fatalf("validate credential: %v", err)
	}
	if id.OwnerID != "smoke-user" {
		log.Fatalf("owner mismatch: %s", id.OwnerID)
	}
	if _, err := creds.Validate(ctx, "kp_bogus", ""); err == nil {
		log.Fatal("bogus token accepted")
	}

	limiter := ratelimit.New(events)
	for i := 0; i < 3; i++ {
		if !limiter.Allow(id.OwnerID, 3, time.Minute) {
			log.Fatalf("call %d unexpectedly denied", i+1)
		}
	}
	if limiter.Allow(id.OwnerID, 3, time.Minute) {
		log.Fatal("fourth call not throttled")
	}

	miner := prooflock.NewMiner()
	payload := map[string]any{"record": "smoke", "seq": 1}
	proof, err := miner.Generate(ctx, payload, 3)
	if err != nil {
		log.Fatalf("mine proof: %v", err)
	}
	if !prooflock.Verify(payload, proof) {
		log.Fatal("proof did not verify")
	}
	if prooflock.Verify(map[string]any{"record": "forged", "seq": 1}, proof) {
		log.Fatal("forged payload verified")
	}

	engine := mesh.NewEngine(mesh.FixedVoter(true))
	for _, n := range []string{"n1", "n2", "n3"} {
		engine.RegisterNode(n, map[string]any{"zone": "local"})
	}
	res, err := engine.Propose(ctx, payload)
	if err != nil {
		log.Fatalf("propose: %v", err)
	}
	if !res.Achieved || res.ReceivedVotes != 3 || res.RequiredVotes != 2 {
		log.Fatalf("unexpected consensus result: %+v", res)
	}

	fmt.Printf("✅ trust-layer smoke test passed: nonce=%d events=%d\n", proof.Nonce, events.Len())
}
