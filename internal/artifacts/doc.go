// Package artifacts stores uploaded input audio and the notation exports a
// completed job produces. Blobs live in a primary remote backend with a
// local-disk fallback; export records are write-once per (job id, format)
// and retrieved through time-limited signed download tokens.
package artifacts
