// Package pubsub provides the in-process progress channel: fan-out delivery
// of ledger progress events keyed by job id. Channels carry no state of
// their own; a subscriber that connects after an event was published simply
// misses it and must fall back to a ledger snapshot.
package pubsub
