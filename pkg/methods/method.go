// Package methods implements the fixed set of engine operations exposed to callers.
package methods

import "fmt"

// Method identifies one operation in the closed method set.
type Method int

const (
	Unknown Method = iota
	Init
	SetDepth
	SetPosition
	BestMove
	Version
)

// All lists every known method in declaration order.
var All = []Method{Init, SetDepth, SetPosition, BestMove, Version}

var methodNames = map[Method]string{
	Init:        "init",
	SetDepth:    "setDepth",
	SetPosition: "setPosition",
	BestMove:    "bestMove",
	Version:     "version",
}

// aliases are the engine's native export names, accepted on the wire.
var aliases = map[string]Method{
	"set_depth": SetDepth,
	"set_fen":   SetPosition,
	"best_move": BestMove,
}

// String returns the wire name of m.
func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod resolves a wire name to a Method.
func ParseMethod(name string) (Method, bool) {
	for m, n := range methodNames {
		if n == name {
			return m, true
		}
	}
	if m, ok := aliases[name]; ok {
		return m, true
	}
	return Unknown, false
}

// Gated reports whether m requires the engine to be ready.
func (m Method) Gated() bool {
	return m != Init
}
