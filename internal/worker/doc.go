// Package worker drives queued transcription jobs through the engine stages,
// recording lifecycle transitions and storing exports as it goes. Workers
// hold a queue lease while processing and renew it in the background; a
// worker that dies mid-job loses its lease and the job is redelivered.
package worker
