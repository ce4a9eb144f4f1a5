package credential

// Builtin capability keys checked by the transport layer.
const (
	CapBasicAccess   = "basic_access"
	CapMeshConsensus = "mesh_consensus"
	CapProofGenerate = "proof_generate"
	CapAdminAccess   = "admin_access"
)
