package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/metaingest/errors"
)

// ConnectionStatus is the state of the NATS connection.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
	StatusClosed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client owns one NATS connection and its JetStream context. After
// circuitThreshold consecutive connection failures the circuit opens and
// Connect fails fast until the backoff has elapsed.
type Client struct {
	url    string
	logger *slog.Logger
	status atomic.Int32

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream

	failures         atomic.Int32
	circuitThreshold int32
	backoff          time.Duration
	maxBackoff       time.Duration
	openedAt         time.Time

	name          string
	timeout       time.Duration
	drainTimeout  time.Duration
	maxReconnects int
	reconnectWait time.Duration
	username      string
	password      string
	token         string
	tlsConfig     *tls.Config

	onDisconnect func(error)
	onReconnect  func()
}

// NewClient returns an unconnected client for url.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty NATS url", errors.ErrMissingConfig),
			"Client", "NewClient", "validate url")
	}
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		circuitThreshold: 5,
		backoff:          time.Second,
		maxBackoff:       time.Minute,
		name:             "metaingest",
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.setStatus(StatusDisconnected)
	return c, nil
}

func (c *Client) URL() string { return c.url }

func (c *Client) Status() ConnectionStatus { return ConnectionStatus(c.status.Load()) }

func (c *Client) setStatus(s ConnectionStatus) { c.status.Store(int32(s)) }

// IsHealthy reports whether the client is connected.
func (c *Client) IsHealthy() bool {
	if c.Status() != StatusConnected {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Connection returns the underlying connection, nil before Connect.
func (c *Client) Connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) recordFailure() {
	n := c.failures.Add(1)
	if n < c.circuitThreshold {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status() != StatusCircuitOpen {
		c.openedAt = time.Now()
		c.logger.Warn("NATS circuit breaker opened", "url", c.url, "failures", n, "backoff", c.backoff)
	} else {
		c.openedAt = time.Now()
		c.backoff = min(c.backoff*2, c.maxBackoff)
	}
	c.setStatus(StatusCircuitOpen)
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.mu.Lock()
	c.backoff = time.Second
	c.mu.Unlock()
}

// circuitAllows reports whether a connection attempt may proceed, moving an
// open circuit to half-open once its backoff has elapsed.
func (c *Client) circuitAllows() bool {
	if c.Status() != StatusCircuitOpen {
		return true
	}
	c.mu.RLock()
	ready := time.Since(c.openedAt) >= c.backoff
	c.mu.RUnlock()
	if ready {
		c.setStatus(StatusDisconnected)
	}
	return ready
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.Timeout(c.timeout),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.Status() == StatusClosed {
				return
			}
			c.setStatus(StatusReconnecting)
			c.logger.Warn("NATS disconnected", "url", c.url, "error", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setStatus(StatusConnected)
			c.logger.Info("NATS reconnected", "url", c.url)
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}),
	}
	switch {
	case c.token != "":
		opts = append(opts, nats.Token(c.token))
	case c.username != "":
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	return opts
}

// Connect dials the server and initializes JetStream.
func (c *Client) Connect(ctx context.Context) error {
	switch c.Status() {
	case StatusConnected:
		return nil
	case StatusClosed:
		return errors.WrapFatal(ErrNotConnected, "Client", "Connect", "connect closed client")
	}
	if !c.circuitAllows() {
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "check circuit")
	}

	c.setStatus(StatusConnecting)
	c.logger.Debug("Connecting to NATS", "url", c.url)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		c.connectFailed()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}
	if res.err != nil {
		c.connectFailed()
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		res.conn.Close()
		c.connectFailed()
		return errors.WrapTransient(err, "Client", "Connect", "initialize JetStream")
	}

	c.mu.Lock()
	c.conn, c.js = res.conn, js
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

func (c *Client) connectFailed() {
	c.setStatus(StatusDisconnected)
	c.recordFailure()
}

// Close drains the connection. The client cannot be reused.
func (c *Client) Close(ctx context.Context) error {
	if c.Status() == StatusClosed {
		return nil
	}
	c.setStatus(StatusClosed)

	c.mu.Lock()
	conn := c.conn
	c.conn, c.js = nil, nil
	c.token, c.password = "", ""
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	closed := make(chan struct{})
	conn.SetClosedHandler(func(*nats.Conn) { close(closed) })
	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.Wrap(err, "Client", "Close", "drain connection")
	}
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		conn.Close()
		return errors.WrapTransient(ctx.Err(), "Client", "Close", "wait for drain")
	}
}

// JetStream returns the JetStream context of a connected client.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// CreateKeyValueBucket returns the bucket named in cfg, creating it when it
// does not exist yet.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.logger.Debug("Using existing KV bucket", "bucket", cfg.Bucket)
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if !isAlreadyExistsError(err) {
			return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("create bucket %s", cfg.Bucket))
		}
		// Lost a creation race; the winner's bucket is fine.
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
		if err != nil {
			return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("access existing bucket %s", cfg.Bucket))
		}
		return bucket, nil
	}
	c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
	return bucket, nil
}

// GetKeyValueBucket returns an existing bucket.
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: bucket %s", errors.ErrNotFound, name),
				"Client", "GetKeyValueBucket", "lookup bucket")
		}
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", "lookup bucket")
	}
	return bucket, nil
}

// DeleteKeyValueBucket removes a bucket and its data.
func (c *Client) DeleteKeyValueBucket(ctx context.Context, name string) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if err := js.DeleteKeyValue(ctx, name); err != nil {
		return errors.WrapTransient(err, "Client", "DeleteKeyValueBucket", "delete bucket")
	}
	return nil
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "stream name already in use")
}
