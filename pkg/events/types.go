// Package events defines event types and publisher interfaces for engine lifecycle events.
package events

// EngineReadyEvent is emitted once when a worker's engine finishes init.
type EngineReadyEvent struct {
	Worker    string `json:"worker"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}
