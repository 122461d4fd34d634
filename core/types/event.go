package types

// Event represents a typed event emitted during a state transition. Attribute
// values are rendered as strings so downstream consumers do not need to know
// per-module payload shapes.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
