package mesh

import "context"

// Voter decides how a node votes on a proposal. The engine never decides
// votes itself: deployments plug in a local decision function or a proxy
// to a remote process.
type Voter interface {
	Vote(ctx context.Context, nodeID string, payload any) bool
}

// VoterFunc adapts a plain function to the Voter interface.
type VoterFunc func(ctx context.Context, nodeID string, payload any) bool

func (f VoterFunc) Vote(ctx context.Context, nodeID string, payload any) bool {
	return f(ctx, nodeID, payload)
}

// FixedVoter returns a Voter that always answers the same way. Useful for
// tests and single-operator deployments where every node approves.
func FixedVoter(approve bool) Voter {
	return VoterFunc(func(context.Context, string, any) bool {
		return approve
	})
}
