package artifacts

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound indicates the requested artifact or blob does not exist.
var ErrNotFound = errors.New("artifact not found")

// Metadata describes a stored blob.
type Metadata struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Backend is a flat key/blob store. Keys use forward slashes.
type Backend interface {
	Name() string
	Put(ctx context.Context, key, contentType string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, Metadata, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Format identifies one export produced for a completed job.
type Format string

const (
	FormatMusicXML Format = "musicxml"
	FormatMIDI     Format = "midi"
	FormatPDF      Format = "pdf"
)

var allFormats = []Format{FormatMusicXML, FormatMIDI, FormatPDF}

var formatContentTypes = map[Format]string{
	FormatMusicXML: "application/vnd.recordare.musicxml+xml",
	FormatMIDI:     "audio/midi",
	FormatPDF:      "application/pdf",
}

var formatExtensions = map[Format]string{
	FormatMusicXML: "musicxml",
	FormatMIDI:     "mid",
	FormatPDF:      "pdf",
}

// AllFormats returns the fixed set of export formats.
func AllFormats() []Format {
	cp := make([]Format, len(allFormats))
	copy(cp, allFormats)
	return cp
}

// ParseFormat converts a string into a known Format.
func ParseFormat(value string) (Format, bool) {
	format := Format(value)
	_, ok := formatContentTypes[format]
	return format, ok
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if ct, ok := formatContentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Extension returns the file extension used in storage keys.
func (f Format) Extension() string {
	if ext, ok := formatExtensions[f]; ok {
		return ext
	}
	return string(f)
}
