package cards

// OperationEntry is one telemetry row describing an analysis operation
// outcome: card generation, card update, or friendship scoring.
type OperationEntry struct {
	Operation    string
	Status       string
	DurationMS   int64
	ErrorMessage string
	Metadata     map[string]any
}
