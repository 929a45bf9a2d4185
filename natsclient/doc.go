// Package natsclient manages a NATS connection with JetStream and wraps its
// key-value buckets.
//
// A Client connects lazily, reconnects through the nats.go reconnect loop,
// and opens a circuit breaker after repeated dial failures so callers fail
// fast while the server is away:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithLogger(logger),
//		natsclient.WithCircuitBreakerThreshold(3),
//	)
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close(ctx)
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "records"})
//	kv := client.NewKVStore(bucket)
//
// WithTLSConfig dials with a *tls.Config, typically built by
// tlsutil.LoadClientConfig from file settings.
//
// KVStore adds per-call timeouts, a value size limit and CAS updates
// (UpdateWithRetry) on top of jetstream.KeyValue.
//
// NewTestClient starts a NATS server in a container for integration tests.
package natsclient
