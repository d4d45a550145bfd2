package capture

import "context"

// Fidelity classifies where a sample came from.
//
// Canonical samples are fetched or intercepted from the host platform's own
// API and are trusted for export. Degraded samples are reconstructed from the
// page DOM and are only exportable behind an explicit user confirmation.
type Fidelity int

const (
	// FidelityCanonical marks data obtained from the authoritative backend.
	FidelityCanonical Fidelity = iota + 1
	// FidelityDegraded marks data reconstructed from a DOM snapshot.
	FidelityDegraded
)

// String returns the fidelity name for logging.
func (f Fidelity) String() string {
	switch f {
	case FidelityCanonical:
		return "canonical"
	case FidelityDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Sample is one observation of a conversation's content.
//
// The payload is opaque to the engine: only the evaluator interprets it.
// CapturedAtMs is the host page's own clock and is untrusted (pages report
// repeated or rewound timestamps); ordering decisions use Seq, a monotonic
// ingest sequence stamped by the engine when the sample arrives.
type Sample struct {
	ConversationID string
	Platform       string
	Fidelity       Fidelity
	Payload        []byte
	CapturedAtMs   int64
	Seq            int64
}

// Verdict is an evaluator's judgment of a single sample.
//
// ContentHash is empty when the evaluator could not derive a stable
// fingerprint (e.g. the payload failed to parse). Ready means the content is
// complete; Terminal means the platform reports generation as finished.
// Both must hold, on two consecutive samples with the same non-empty hash,
// before the fusion engine declares an attempt ready.
type Verdict struct {
	Ready       bool
	Terminal    bool
	ContentHash string
}

// Evaluator reports content-completeness of a sample.
//
// Implementations are per-platform plugins; the engine is agnostic to how
// readiness is detected. Evaluate must be pure with respect to engine state:
// the same sample always yields the same verdict.
type Evaluator interface {
	Evaluate(s Sample) Verdict
}

// CanonicalSource fetches conversation data from the authoritative backend.
//
// FetchCanonical returns (nil, nil) when the conversation has no canonical
// representation yet. Parse converts a raw intercepted response body into a
// sample, returning (nil, nil) for unrecognized payloads.
type CanonicalSource interface {
	FetchCanonical(ctx context.Context, conversationID string) (*Sample, error)
	Parse(raw []byte) (*Sample, error)
}

// SnapshotSource provides the degraded DOM-derived fallback.
//
// RequestSnapshot returns (nil, nil) when no snapshot is available.
type SnapshotSource interface {
	RequestSnapshot(ctx context.Context, conversationID string) (*Sample, error)
}
