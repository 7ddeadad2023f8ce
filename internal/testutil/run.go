package testutil

// FixedRunTokenGenerator returns the same run token every time, so golden
// traces are byte-identical across runs.
//
// Safe for concurrent use.
type FixedRunTokenGenerator struct {
	token string
}

// NewFixedRunTokenGenerator returns a generator for token. An empty token
// becomes "test-run-default".
func NewFixedRunTokenGenerator(token string) *FixedRunTokenGenerator {
	if token == "" {
		token = "test-run-default"
	}
	return &FixedRunTokenGenerator{token: token}
}

// Generate implements engine.RunTokenGenerator.
func (g *FixedRunTokenGenerator) Generate() string {
	return g.token
}
