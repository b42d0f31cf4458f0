package domain

// Verbosity selects the shape of a tool response (§4.8).
type Verbosity string

const (
	VerbositySummary Verbosity = "summary"
	VerbosityCompact Verbosity = "compact" // default
	VerbosityFull    Verbosity = "full"
)

// Normalize returns v, or VerbosityCompact if v is empty/unrecognized.
func (v Verbosity) Normalize() Verbosity {
	switch v {
	case VerbositySummary, VerbosityFull:
		return v
	default:
		return VerbosityCompact
	}
}
