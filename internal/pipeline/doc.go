// Package pipeline defines the transcription engine contract and a
// deterministic stub implementation used for local runs and tests.
package pipeline
