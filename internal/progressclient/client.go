package progressclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"drumscribe/internal/ledger"
	"drumscribe/internal/logging"
)

// State describes the push connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

const (
	defaultReconnectBackoff = 2 * time.Second
	defaultPollInterval     = time.Second
	defaultKeepalive        = 30 * time.Second
)

// Update is one merged view of the followed job.
type Update struct {
	JobID    string
	Status   ledger.Status
	Stage    ledger.Stage
	Progress int
	Message  string
}

// Terminal reports whether the update ends the stream.
func (u Update) Terminal() bool {
	return u.Status.IsTerminal()
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL          string
	ReconnectBackoff time.Duration
	PollInterval     time.Duration
	Keepalive        time.Duration
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Client follows one job until it reaches a terminal status.
type Client struct {
	jobID   string
	baseURL string
	backoff time.Duration
	poll    time.Duration
	keep    time.Duration
	http    *http.Client
	logger  *slog.Logger

	mu        sync.Mutex
	state     State
	latest    *Update
	suspended bool

	updates chan Update
	done    chan struct{}
	once    sync.Once
}

// New builds a client following jobID against the API at opts.BaseURL.
func New(jobID string, opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("base url must not be empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	backoff := opts.ReconnectBackoff
	if backoff <= 0 {
		backoff = defaultReconnectBackoff
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	keep := opts.Keepalive
	if keep <= 0 {
		keep = defaultKeepalive
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Client{
		jobID:   jobID,
		baseURL: base,
		backoff: backoff,
		poll:    poll,
		keep:    keep,
		http:    httpClient,
		logger:  logger.With(logging.String(logging.FieldJobID, jobID)),
		state:   StateDisconnected,
		updates: make(chan Update, 16),
		done:    make(chan struct{}),
	}, nil
}

// Updates returns the merged update stream. The channel is closed once the
// job reaches a terminal status or Run returns.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// State returns the current push connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Suspend pauses polling until Resume. The push feed keeps running. Polling
// may be suspended at any time without losing correctness; it only delays
// how quickly a missed event is caught up.
func (c *Client) Suspend() {
	c.mu.Lock()
	c.suspended = true
	c.mu.Unlock()
}

// Resume re-enables the polling fallback after Suspend.
func (c *Client) Resume() {
	c.mu.Lock()
	c.suspended = false
	c.mu.Unlock()
}

// Run drives both feeds until the job finishes or the context is canceled.
// It always closes the updates channel before returning.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.finish()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.pushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.pollLoop(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-c.done:
	}
	cancel()
	c.signalDone()
	wg.Wait()

	c.mu.Lock()
	terminal := c.latest != nil && c.latest.Terminal()
	c.mu.Unlock()
	if terminal {
		return nil
	}
	return ctx.Err()
}

func (c *Client) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) finish() {
	c.once.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.updates)
	})
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// merge folds an update into the latest view. Terminal updates always win;
// otherwise status never regresses and, within a status, higher progress and
// later stages win. Stale or duplicate updates are dropped silently, which
// makes the push and poll feeds safe to run concurrently.
func (c *Client) merge(update Update) {
	c.mu.Lock()
	if c.latest != nil {
		prev := *c.latest
		if prev.Terminal() {
			c.mu.Unlock()
			return
		}
		if !update.Terminal() {
			if ledger.CompareStatus(update.Status, prev.Status) < 0 {
				c.mu.Unlock()
				return
			}
			if update.Status == prev.Status &&
				update.Progress <= prev.Progress &&
				ledger.CompareStage(update.Stage, prev.Stage) <= 0 &&
				update.Message == prev.Message {
				c.mu.Unlock()
				return
			}
			if update.Progress < prev.Progress {
				update.Progress = prev.Progress
			}
		}
	}
	snapshot := update
	c.latest = &snapshot
	c.mu.Unlock()

	select {
	case c.updates <- update:
	case <-c.done:
		return
	}
	if update.Terminal() {
		c.signalDone()
	}
}

func (c *Client) signalDone() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// pushLoop maintains the WebSocket feed, reconnecting after a fixed backoff.
func (c *Client) pushLoop(ctx context.Context) {
	wsURL, err := c.socketURL()
	if err != nil {
		c.logger.Warn("push feed disabled", logging.Error(err))
		return
	}

	for {
		if ctx.Err() != nil || c.finished() {
			return
		}
		c.setState(StateConnecting)
		if err := c.followSocket(ctx, wsURL); err != nil && ctx.Err() == nil && !c.finished() {
			c.logger.Debug("push feed dropped", logging.Error(err))
		}
		c.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(c.backoff):
		}
	}
}

func (c *Client) followSocket(ctx context.Context, wsURL string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()
	c.setState(StateConnected)

	// Close the socket when the context ends so the read below unblocks.
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		case <-readerDone:
		}
		_ = conn.Close()
	}()

	// Keepalive writer. The payload is an opaque token the server discards;
	// it only proves the client is still there.
	go func() {
		ticker := time.NewTicker(c.keep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-readerDone:
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("keepalive")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.keep + c.keep/2))
		var event struct {
			JobID    string `json:"jobId"`
			Status   string `json:"status"`
			Stage    string `json:"stage"`
			Progress int    `json:"progress"`
			Message  string `json:"message"`
		}
		if err := conn.ReadJSON(&event); err != nil {
			return err
		}
		status, ok := ledger.ParseStatus(event.Status)
		if !ok {
			continue
		}
		c.merge(Update{
			JobID:    event.JobID,
			Status:   status,
			Stage:    ledger.Stage(event.Stage),
			Progress: event.Progress,
			Message:  event.Message,
		})
	}
}

// pollLoop fetches the job snapshot on an interval regardless of push state.
// Snapshots run through the same merge, so an out-of-date poll result
// arriving after a fresher push event is ignored, and a terminal state the
// socket missed still lands within one poll interval.
func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		suspended := c.suspended
		c.mu.Unlock()
		if suspended {
			continue
		}

		update, err := c.fetchSnapshot(ctx)
		if err != nil {
			if ctx.Err() == nil && !c.finished() {
				c.logger.Debug("poll failed", logging.Error(err))
			}
			continue
		}
		c.merge(update)
	}
}

func (c *Client) fetchSnapshot(ctx context.Context) (Update, error) {
	endpoint := c.baseURL + "/api/v1/jobs/" + url.PathEscape(c.jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Update{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Update{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Update{}, fmt.Errorf("job snapshot returned %d", resp.StatusCode)
	}

	var body struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		Stage        string `json:"stage"`
		Progress     int    `json:"progress"`
		Message      string `json:"message"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Update{}, fmt.Errorf("decode job snapshot: %w", err)
	}
	status, ok := ledger.ParseStatus(body.Status)
	if !ok {
		return Update{}, fmt.Errorf("unknown status %q", body.Status)
	}

	message := body.Message
	if status == ledger.StatusError && body.ErrorMessage != "" {
		message = body.ErrorMessage
	}
	return Update{
		JobID:    body.ID,
		Status:   status,
		Stage:    ledger.Stage(body.Stage),
		Progress: body.Progress,
		Message:  message,
	}, nil
}

func (c *Client) socketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws/jobs/" + url.PathEscape(c.jobID)
	return parsed.String(), nil
}
