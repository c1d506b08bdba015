// Package registry provides the agent catalog: which agent ids exist and
// how to describe them. Unknown agent ids are rejected before a run is
// created.
package registry

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by Registry implementations.
var (
	ErrAgentNotFound = errors.New("agent not found")
)

// Agent describes a registered agent.
type Agent struct {
	// ID is the unique identifier (e.g., "nlp.sentiment").
	ID string `json:"id"`

	// Name is the human-readable name.
	Name string `json:"name"`

	// Description provides details about the agent.
	Description string `json:"description,omitempty"`

	// Capabilities are tags describing what the agent can do.
	Capabilities []string `json:"capabilities,omitempty"`

	// Metadata holds additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the agent was first registered.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the agent was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry defines the agent catalog contract. Implementations must be
// safe for concurrent use.
type Registry interface {
	// Register adds or replaces an agent.
	Register(ctx context.Context, agent *Agent) error

	// Get retrieves an agent by id. Returns ErrAgentNotFound if absent.
	Get(ctx context.Context, id string) (*Agent, error)

	// Has reports whether the agent id is registered.
	Has(ctx context.Context, id string) (bool, error)

	// List returns all registered agents.
	List(ctx context.Context) ([]*Agent, error)

	// Close releases resources.
	Close() error
}

// Builtin returns the platform's stock agents, seeded into fresh
// registries so workflows can reference them out of the box.
func Builtin() []*Agent {
	now := time.Now().UTC()
	mk := func(id, name, desc string, caps ...string) *Agent {
		return &Agent{ID: id, Name: name, Description: desc, Capabilities: caps, CreatedAt: now, UpdatedAt: now}
	}
	return []*Agent{
		mk("nlp.ner", "Named Entity Recognition", "Extracts entities from text", "text"),
		mk("nlp.sentiment", "Sentiment Analysis", "Classifies text sentiment", "text"),
		mk("nlp.summarize", "Summarization", "Abstractive and extractive summaries", "text"),
		mk("nlp.paraphrase", "Paraphrasing", "Rewrites text preserving meaning", "text"),
		mk("nlp.intent", "Intent Classification", "Classifies user intent", "text"),
		mk("nlp.embed", "Text Embedding", "Sentence embeddings for retrieval", "text", "vector"),
	}
}
