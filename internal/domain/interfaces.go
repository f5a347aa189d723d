package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers. Infrastructure
// implements them; application layers depend only on the interface.

// AiProvider abstracts a pluggable inference backend. CIS ships no concrete
// implementation — callers bring their own (local llama.cpp, a remote API,
// a test double).
type AiProvider interface {
	// Complete generates a single completion for the given prompt.
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)

	// Embed returns a vector embedding for each input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Dimensions reports the embedding width this provider produces.
	Dimensions() int
}

// CompletionOptions tunes a single AiProvider.Complete call.
type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
	StopWords   []string
}

// EmbeddingService wraps an AiProvider with caching and batching, and is the
// boundary the vector search core depends on.
type EmbeddingService interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SkillRuntime is the boundary a skill executor dispatch kind implements:
// Native, Wasm, Remote, and Dag each satisfy this the same way.
type SkillRuntime interface {
	// Run executes the skill with the given input and returns raw output
	// bytes (JSON-encoded, by convention).
	Run(ctx context.Context, input []byte) ([]byte, error)

	// Kind identifies the dispatch kind for logging/metrics.
	Kind() string
}

// PermissionStore persists grant/denial decisions for a skill + category
// pair.
type PermissionStore interface {
	Grant(skillID string, category PermissionCategory) error
	Revoke(skillID string, category PermissionCategory) error
	Check(skillID string, category PermissionCategory) (Decision, bool)
}

// DhtTransport abstracts the wire layer a Kademlia table sends RPCs over,
// so the routing logic can be tested without real sockets.
type DhtTransport interface {
	Ping(ctx context.Context, to NodeContact) error
	FindNode(ctx context.Context, to NodeContact, target [20]byte) ([]NodeContact, error)
	Store(ctx context.Context, to NodeContact, key [20]byte, value []byte) error
	FindValue(ctx context.Context, to NodeContact, key [20]byte) ([]byte, []NodeContact, error)
}
