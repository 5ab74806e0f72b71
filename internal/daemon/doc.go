// Package daemon assembles the stores, worker pool, artifact sweeper, and
// HTTP gateway into a single lifecycle with flock-based locking to prevent
// multiple instances from sharing the same data directory.
package daemon
