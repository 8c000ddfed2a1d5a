// Package jupyter connects to a kernel on a Jupyter server through the
// server's REST API and its websocket channels endpoint.
package jupyter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/waldiez/jupyter-runner/kernel"
)

// DefaultKernelName is started when Config.KernelName is empty.
const DefaultKernelName = "python3"

const username = "waldiez"

// Config describes how to reach the kernel.
type Config struct {
	BaseURL    string // e.g. http://localhost:8888
	Token      string // server token, sent as "Authorization: token <Token>"
	KernelID   string // attach to this kernel; empty starts a new one
	KernelName string // kernelspec used when starting a kernel

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Client is a kernel.Kernel speaking to one Jupyter kernel.
type Client struct {
	cfg       Config
	log       *slog.Logger
	base      *url.URL
	kernelID  string
	sessionID string
	owned     bool

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]*pendingExec
	lastInput kernel.Header
	closed    bool
	done      chan struct{}
}

type pendingExec struct {
	future *kernel.ChanFuture
	reply  *kernel.Message
	idle   bool
}

// newClient validates cfg and fills its defaults. No request is made.
func newClient(cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.KernelName == "" {
		cfg.KernelName = DefaultKernelName
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", cfg.BaseURL)
	}
	return &Client{
		cfg:       cfg,
		log:       log.With("component", "jupyter-kernel"),
		base:      base,
		kernelID:  cfg.KernelID,
		sessionID: uuid.New().String(),
		pending:   make(map[string]*pendingExec),
		done:      make(chan struct{}),
	}, nil
}

// ServerVersion asks the server at cfg.BaseURL for its version. It checks
// that the server is reachable and the token accepted.
func ServerVersion(ctx context.Context, cfg Config) (string, error) {
	c, err := newClient(cfg, nil)
	if err != nil {
		return "", err
	}
	var info struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil); err != nil {
		return "", err
	}
	if err := c.do(ctx, http.MethodGet, "/api", nil, &info); err != nil {
		return "", err
	}
	return info.Version, nil
}

// Dial starts or attaches to a kernel and opens its channels websocket.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	c, err := newClient(cfg, log)
	if err != nil {
		return nil, err
	}
	cfg = c.cfg

	if c.kernelID == "" {
		var started struct {
			ID string `json:"id"`
		}
		if err := c.do(ctx, http.MethodPost, "/api/kernels", map[string]string{"name": cfg.KernelName}, &started); err != nil {
			return nil, fmt.Errorf("failed to start kernel: %w", err)
		}
		if started.ID == "" {
			return nil, errors.New("failed to start kernel: server returned no kernel id")
		}
		c.kernelID = started.ID
		c.owned = true
		c.log.Info("started kernel", "kernelID", c.kernelID, "name", cfg.KernelName)
	}
	c.log = c.log.With("kernelID", c.kernelID)

	conn, _, err := cfg.Dialer.DialContext(ctx, c.channelsURL(), c.authHeader())
	if err != nil {
		if c.owned {
			c.shutdownKernel()
		}
		return nil, fmt.Errorf("failed to open kernel channels: %w", err)
	}
	c.conn = conn
	go c.readLoop()

	c.log.Info("connected to kernel")
	return c, nil
}

// KernelID returns the id of the connected kernel.
func (c *Client) KernelID() string {
	return c.kernelID
}

func (c *Client) channelsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/api/kernels/" + url.PathEscape(c.kernelID) + "/channels"
	u.RawQuery = url.Values{"session_id": {c.sessionID}}.Encode()
	return u.String()
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.cfg.Token != "" {
		h.Set("Authorization", "token "+c.cfg.Token)
	}
	return h
}

// do performs a REST call against the server. body and out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	u := *c.base
	u.Path = u.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header = c.authHeader()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) newMessage(channel, msgType string, parent kernel.Header, content any) *kernel.Message {
	msg := kernel.NewMessage(channel, msgType, uuid.New().String(), parent.MsgID, content)
	msg.Header.Username = username
	msg.Header.Session = c.sessionID
	msg.Header.Date = time.Now().UTC().Format(time.RFC3339Nano)
	msg.ParentHeader = parent
	return msg
}

func (c *Client) write(msg *kernel.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type(), err)
	}
	return nil
}

// Execute sends an execute_request on the shell channel. The future settles
// once both the execute_reply and the idle status for the request arrived.
func (c *Client) Execute(ctx context.Context, req kernel.ExecuteRequest) (kernel.Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := c.newMessage(kernel.ChannelShell, kernel.MsgExecuteRequest, kernel.Header{}, kernel.ExecuteRequestContent{
		Code:            req.Code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		AllowStdin:      req.AllowStdin,
		StopOnError:     req.StopOnError,
	})
	msgID := msg.Header.MsgID

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, kernel.ErrClosed
	}
	future := kernel.NewFuture(msgID, func() { c.forget(msgID) })
	c.pending[msgID] = &pendingExec{future: future}
	c.mu.Unlock()

	if err := c.write(msg); err != nil {
		future.Dispose()
		return nil, err
	}
	c.log.Debug("sent execute request", "msgID", msgID)
	return future, nil
}

func (c *Client) forget(msgID string) {
	c.mu.Lock()
	delete(c.pending, msgID)
	c.mu.Unlock()
}

// SendInputReply answers the last input_request on the stdin channel.
func (c *Client) SendInputReply(ctx context.Context, value string, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return kernel.ErrClosed
	}
	parent := c.lastInput
	c.mu.Unlock()

	msg := c.newMessage(kernel.ChannelStdin, kernel.MsgInputReply, parent, kernel.InputReplyContent{Value: value})
	for k, v := range metadata {
		msg.Metadata[k] = v
	}
	return c.write(msg)
}

// Interrupt asks the server to interrupt the kernel.
func (c *Client) Interrupt(ctx context.Context) error {
	c.log.Info("interrupting kernel")
	return c.do(ctx, http.MethodPost, "/api/kernels/"+url.PathEscape(c.kernelID)+"/interrupt", nil, nil)
}

// Restart asks the server to restart the kernel. Pending executions settle
// with kernel.ErrClosed.
func (c *Client) Restart(ctx context.Context) error {
	c.log.Info("restarting kernel")
	if err := c.do(ctx, http.MethodPost, "/api/kernels/"+url.PathEscape(c.kernelID)+"/restart", nil, nil); err != nil {
		return err
	}
	c.failPending(kernel.ErrClosed)
	return nil
}

// Close closes the channels websocket and shuts the kernel down if Dial
// started it.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done

	if c.owned {
		c.shutdownKernel()
	}
	return err
}

func (c *Client) shutdownKernel() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.do(ctx, http.MethodDelete, "/api/kernels/"+url.PathEscape(c.kernelID), nil, nil); err != nil {
		c.log.Warn("failed to shut down kernel", "error", err)
		return
	}
	c.log.Info("kernel shut down")
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var msg kernel.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closing := c.closed
			c.closed = true
			c.mu.Unlock()
			if !closing {
				c.log.Warn("kernel channels closed", "error", err)
			}
			c.failPending(kernel.ErrClosed)
			return
		}
		c.route(&msg)
	}
}

// route hands msg to the future of the request it answers.
func (c *Client) route(msg *kernel.Message) {
	parentID := msg.ParentHeader.MsgID

	c.mu.Lock()
	p := c.pending[parentID]
	if p == nil {
		c.mu.Unlock()
		return
	}
	var deliver bool
	switch msg.Type() {
	case kernel.MsgExecuteReply:
		p.reply = msg
	case kernel.MsgStatus:
		var status kernel.StatusContent
		if err := msg.Decode(&status); err == nil && status.ExecutionState == "idle" {
			p.idle = true
		}
	case kernel.MsgInputRequest:
		c.lastInput = msg.Header
		deliver = true
	case kernel.MsgStream, kernel.MsgError:
		deliver = true
	}
	settle := p.reply != nil && p.idle
	if settle {
		delete(c.pending, parentID)
	}
	c.mu.Unlock()

	if deliver {
		p.future.Push(msg)
	}
	if settle {
		c.log.Debug("execute request settled", "msgID", parentID)
		p.future.Settle(p.reply, kernel.ReplyError(p.reply))
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingExec)
	c.mu.Unlock()
	for _, p := range pending {
		p.future.Settle(nil, err)
	}
}

var _ kernel.Kernel = (*Client)(nil)
