package pipeline

import (
	"context"

	"drumscribe/internal/artifacts"
	"drumscribe/internal/ledger"
)

// Request carries one job's audio through the engine stages.
type Request struct {
	JobID    string
	Filename string
	Audio    []byte
}

// Export is one rendered output of a completed transcription.
type Export struct {
	Format      artifacts.Format
	ContentType string
	Data        []byte
}

// Engine performs the processing stages of a transcription. Each method
// corresponds to one stage; the worker drives them in order and records
// progress between calls. Implementations must be safe for concurrent use
// across distinct requests.
type Engine interface {
	// Preprocess normalizes the uploaded audio for analysis.
	Preprocess(ctx context.Context, req *Request) error

	// SeparateSources isolates the percussion signal from the mix.
	SeparateSources(ctx context.Context, req *Request) error

	// Transcribe detects onsets and maps them to drum notation events.
	Transcribe(ctx context.Context, req *Request) error

	// PostProcess quantizes the transcription and derives the summary
	// metrics returned to clients.
	PostProcess(ctx context.Context, req *Request) (*ledger.Result, error)

	// GenerateExports renders the final notation in every export format.
	GenerateExports(ctx context.Context, req *Request) ([]Export, error)
}
