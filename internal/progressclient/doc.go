// Package progressclient follows a job's progress from the API over two
// feeds that run side by side: the WebSocket push feed and HTTP polling.
// Both converge on the same merged view, so consumers see a single monotonic
// stream of updates no matter which feed delivers first.
package progressclient
