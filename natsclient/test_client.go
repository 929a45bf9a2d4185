package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient is a NATS server in a container with a connected Client.
type TestClient struct {
	Client *Client
	URL    string

	container testcontainers.Container
}

type testConfig struct {
	jetstream    bool
	kvBuckets    []string
	natsVersion  string
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption configures NewTestClient.
type TestOption func(*testConfig)

// WithJetStream starts the server with JetStream enabled.
func WithJetStream() TestOption {
	return func(cfg *testConfig) { cfg.jetstream = true }
}

// WithKVBuckets enables JetStream and pre-creates the named buckets.
func WithKVBuckets(buckets ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		cfg.kvBuckets = append(cfg.kvBuckets, buckets...)
	}
}

// WithNATSVersion selects the nats image tag.
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) { cfg.natsVersion = version }
}

// NewTestClient starts a NATS container and connects to it. The container is
// terminated when the test ends.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()
	tc, err := startTestClient(opts...)
	if err != nil {
		t.Fatalf("start NATS test client: %v", err)
	}
	t.Cleanup(tc.Terminate)
	return tc
}

func startTestClient(opts ...TestOption) (*TestClient, error) {
	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()
	args := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:" + cfg.natsVersion,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          args,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start NATS container: %w", err)
	}
	tc := &TestClient{container: container}

	fail := func(err error) (*TestClient, error) {
		tc.Terminate()
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return fail(fmt.Errorf("container host: %w", err))
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return fail(fmt.Errorf("mapped port: %w", err))
	}
	tc.URL = fmt.Sprintf("nats://%s:%s", host, port.Port())

	client, err := NewClient(tc.URL, WithTimeout(cfg.timeout), WithMaxReconnects(0))
	if err != nil {
		return fail(err)
	}
	tc.Client = client

	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fail(err)
	}

	for _, bucket := range cfg.kvBuckets {
		if _, err := client.CreateKeyValueBucket(connectCtx, jetstream.KeyValueConfig{Bucket: bucket}); err != nil {
			return fail(fmt.Errorf("create bucket %s: %w", bucket, err))
		}
	}
	return tc, nil
}

// Terminate closes the client and removes the container.
func (tc *TestClient) Terminate() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if tc.Client != nil {
		_ = tc.Client.Close(ctx)
	}
	if tc.container != nil {
		_ = tc.container.Terminate(ctx)
	}
}
