// Package engine describes the external proxy engine this module observes
// and decodes the snapshot payloads it returns.
package engine

import "context"

// Event is one log line emitted by the engine.
// Level is the raw 0-4 ordinal (0=trace ... 4=error).
type Event struct {
	Level   int    `json:"level"`
	Message string `json:"message"`
}

// StartConfig is passed through to the engine on start
type StartConfig struct {
	ServerHost    string
	ServerPort    uint16
	LocalPort     uint16
	SessionKey    string
	AutoProxy     bool
	ReverseGeo    bool
	DirectDomains string // comma separated
}

// Subscription is a handle on an event listener.
// Remove stops delivery to the listener before it returns.
type Subscription interface {
	Remove()
}

// Source delivers engine log events to a listener
type Source interface {
	Subscribe(handler func(Event)) Subscription
}

// Engine is the opaque proxy engine. Start and Stop report success only;
// AutoDirectList and AutoDirectFailures return raw JSON payloads that are
// decoded with DecodeAutoDirectList and DecodeAutoDirectFailures.
type Engine interface {
	Source
	Start(ctx context.Context, cfg StartConfig) bool
	Stop(ctx context.Context) bool
	AutoDirectList(ctx context.Context) (string, error)
	AutoDirectFailures(ctx context.Context) (string, error)
}
