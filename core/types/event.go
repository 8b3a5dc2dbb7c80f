package types

// Event is a typed settlement notification with a flat string-attribute
// payload, suitable for structured logging and downstream indexing.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
