package prooflock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"kenmesh.org/internal/obs"
)

// DefaultAttemptBudget bounds the nonce search. Mining is terminal once
// the budget is exhausted; callers retry with a lower difficulty or a
// larger budget.
const DefaultAttemptBudget = 1_000_000

// ctx cancellation is polled every checkInterval nonces.
const checkInterval = 4096

var (
	ErrMiningTimeout = errors.New("prooflock: mining attempt budget exhausted")
	ErrMiningAborted = errors.New("prooflock: mining aborted")

	errBadDifficulty = errors.New("prooflock: difficulty must be positive")
)

// Proof is a tamper-evidence record for a payload. Immutable once mined.
type Proof struct {
	DataHash   string        `json:"data_hash"`
	Nonce      uint64        `json:"nonce"`
	ProofHash  string        `json:"proof_hash"`
	Difficulty int           `json:"difficulty"`
	MiningTime time.Duration `json:"mining_time"`
}

// Miner searches proof-of-work nonces on a bounded pool of slots so
// CPU-bound mining cannot starve request handling.
type Miner struct {
	budget uint64
	slots  chan struct{}
}

// Option configures Miner behavior.
type Option func(*Miner)

// WithAttemptBudget overrides the per-call nonce budget.
func WithAttemptBudget(n uint64) Option {
	return func(m *Miner) {
		if n > 0 {
			m.budget = n
		}
	}
}

// WithParallelism bounds how many Generate calls mine at once.
func WithParallelism(n int) Option {
	return func(m *Miner) {
		if n > 0 {
			m.slots = make(chan struct{}, n)
		}
	}
}

// NewMiner creates a miner with the default budget and two mining slots.
func NewMiner(opts ...Option) *Miner {
	m := &Miner{
		budget: DefaultAttemptBudget,
		slots:  make(chan struct{}, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate mines the smallest nonce whose hash carries difficulty leading
// zero hex characters. It fails with ErrMiningTimeout when the attempt
// budget runs out and respects ctx cancellation mid-search; an aborted
// search leaves no state behind.
func (m *Miner) Generate(ctx context.Context, payload any, difficulty int) (Proof, error) {
	if difficulty <= 0 {
		return Proof{}, errBadDifficulty
	}
	data, err := canonical(payload)
	if err != nil {
		return Proof{}, err
	}

	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return Proof{}, ErrMiningAborted
	}
	defer func() { <-m.slots }()

	start := time.Now()
	target := strings.Repeat("0", difficulty)
	buf := make([]byte, len(data), len(data)+20)
	copy(buf, data)

	for nonce := uint64(0); nonce < m.budget; nonce++ {
		if nonce%checkInterval == 0 && ctx.Err() != nil {
			return Proof{}, ErrMiningAborted
		}
		attempt := strconv.AppendUint(buf[:len(data)], nonce, 10)
		sum := sha256.Sum256(attempt)
		proofHash := hex.EncodeToString(sum[:])
		if strings.HasPrefix(proofHash, target) {
			elapsed := time.Since(start)
			obs.MiningDuration.Observe(elapsed.Seconds())
			dataSum := sha256.Sum256(data)
			return Proof{
				DataHash:   hex.EncodeToString(dataSum[:]),
				Nonce:      nonce,
				ProofHash:  proofHash,
				Difficulty: difficulty,
				MiningTime: elapsed,
			}, nil
		}
	}
	return Proof{}, ErrMiningTimeout
}

// Verify recomputes both hashes for payload and checks the difficulty
// prefix. Any mismatch, including a tampered payload replayed with the
// original nonce, yields false; Verify never panics and never mutates
// anything.
func Verify(payload any, proof Proof) bool {
	if proof.Difficulty <= 0 {
		return false
	}
	data, err := canonical(payload)
	if err != nil {
		return false
	}
	dataSum := sha256.Sum256(data)
	if hex.EncodeToString(dataSum[:]) != proof.DataHash {
		return false
	}
	attempt := strconv.AppendUint(data, proof.Nonce, 10)
	sum := sha256.Sum256(attempt)
	if hex.EncodeToString(sum[:]) != proof.ProofHash {
		return false
	}
	return strings.HasPrefix(proof.ProofHash, strings.Repeat("0", proof.Difficulty))
}

// canonical renders a payload deterministically: JSON with object keys
// sorted, so the same logical payload hashes identically regardless of
// field ordering.
func canonical(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.New("prooflock: payload not serializable")
	}
	return data, nil
}
