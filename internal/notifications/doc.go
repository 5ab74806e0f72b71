// Package notifications delivers push notifications for job outcomes via
// ntfy. When no topic is configured the service degrades to a noop.
package notifications
