package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                            "/",
		"/metrics":                    "/metrics",
		"/v1/mesh/nodes/node-7":       "/v1/mesh/nodes/:id",
		"/v1/mesh/nodes/node-7/extra": "/v1/mesh/nodes/node-7/extra",
		"/v1/credentials/kp_abc":      "/v1/credentials/:token",
		"/v1/mesh/consensus":          "/v1/mesh/consensus",
		"/v1/proofs?difficulty=3":     "/v1/proofs",
		"/v1/status":                  "/v1/status",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
