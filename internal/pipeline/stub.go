package pipeline

import (
	"context"
	"errors"
	"fmt"

	"drumscribe/internal/artifacts"
	"drumscribe/internal/ledger"
)

// Stub is a deterministic Engine that produces fixed results and small
// placeholder exports. It stands in until a real analysis engine is wired
// behind the same interface, and doubles as the test engine.
type Stub struct {
	// FailStage, when set, makes the corresponding stage method return
	// FailMessage as an error. Used to exercise failure paths.
	FailStage   ledger.Stage
	FailMessage string
}

var _ Engine = (*Stub)(nil)

func (s *Stub) failAt(stage ledger.Stage) error {
	if s.FailStage == stage {
		msg := s.FailMessage
		if msg == "" {
			msg = fmt.Sprintf("stage %s failed", stage)
		}
		return errors.New(msg)
	}
	return nil
}

func (s *Stub) Preprocess(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(req.Audio) == 0 {
		return errors.New("empty audio input")
	}
	return s.failAt(ledger.StagePreprocessing)
}

func (s *Stub) SeparateSources(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.failAt(ledger.StageSourceSeparation)
}

func (s *Stub) Transcribe(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.failAt(ledger.StageTranscribing)
}

func (s *Stub) PostProcess(ctx context.Context, req *Request) (*ledger.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.failAt(ledger.StagePostProcessing); err != nil {
		return nil, err
	}
	return &ledger.Result{
		Tempo:           120,
		TimeSignature:   "4/4",
		DurationSeconds: float64(len(req.Audio)) / 44100,
		AccuracyScore:   0.85,
	}, nil
}

func (s *Stub) GenerateExports(ctx context.Context, req *Request) ([]Export, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.failAt(ledger.StageGeneratingExports); err != nil {
		return nil, err
	}
	exports := make([]Export, 0, len(artifacts.AllFormats()))
	for _, format := range artifacts.AllFormats() {
		exports = append(exports, Export{
			Format:      format,
			ContentType: format.ContentType(),
			Data:        fmt.Appendf(nil, "drumscribe %s export for job %s\n", format, req.JobID),
		})
	}
	return exports, nil
}
