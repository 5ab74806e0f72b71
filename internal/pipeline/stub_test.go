package pipeline_test

import (
	"context"
	"testing"

	"drumscribe/internal/artifacts"
	"drumscribe/internal/ledger"
	"drumscribe/internal/pipeline"
)

func TestStubProducesDeterministicResult(t *testing.T) {
	engine := &pipeline.Stub{}
	ctx := context.Background()
	req := &pipeline.Request{JobID: "job-1", Filename: "take.wav", Audio: make([]byte, 44100)}

	if err := engine.Preprocess(ctx, req); err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if err := engine.SeparateSources(ctx, req); err != nil {
		t.Fatalf("SeparateSources failed: %v", err)
	}
	if err := engine.Transcribe(ctx, req); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	result, err := engine.PostProcess(ctx, req)
	if err != nil {
		t.Fatalf("PostProcess failed: %v", err)
	}
	if result.Tempo != 120 || result.TimeSignature != "4/4" || result.AccuracyScore != 0.85 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if result.DurationSeconds != 1 {
		t.Fatalf("expected 1s duration for 44100 samples, got %v", result.DurationSeconds)
	}

	exports, err := engine.GenerateExports(ctx, req)
	if err != nil {
		t.Fatalf("GenerateExports failed: %v", err)
	}
	if len(exports) != len(artifacts.AllFormats()) {
		t.Fatalf("expected %d exports, got %d", len(artifacts.AllFormats()), len(exports))
	}
	seen := map[artifacts.Format]bool{}
	for _, export := range exports {
		if len(export.Data) == 0 {
			t.Fatalf("empty export for %s", export.Format)
		}
		seen[export.Format] = true
	}
	for _, format := range artifacts.AllFormats() {
		if !seen[format] {
			t.Fatalf("missing export for %s", format)
		}
	}
}

func TestStubRejectsEmptyAudio(t *testing.T) {
	engine := &pipeline.Stub{}
	req := &pipeline.Request{JobID: "job-1", Filename: "silent.wav"}
	if err := engine.Preprocess(context.Background(), req); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

func TestStubFailureInjection(t *testing.T) {
	engine := &pipeline.Stub{
		FailStage:   ledger.StageTranscribing,
		FailMessage: "unsupported sample rate",
	}
	ctx := context.Background()
	req := &pipeline.Request{JobID: "job-1", Audio: []byte{1}}

	if err := engine.SeparateSources(ctx, req); err != nil {
		t.Fatalf("SeparateSources should pass, got %v", err)
	}
	err := engine.Transcribe(ctx, req)
	if err == nil || err.Error() != "unsupported sample rate" {
		t.Fatalf("expected injected failure, got %v", err)
	}
}
