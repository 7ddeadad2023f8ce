package ir

// Version constants for the serialized plan format and the optimizer.
const (
	// IRVersion is the serialized plan schema version.
	IRVersion = "1"

	// EngineVersion is the planopt optimizer version.
	EngineVersion = "0.1.0"
)
