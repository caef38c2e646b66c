// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafka provides a franz-go backed [profilesync/queue.Runtime] that
// consumes one or more topics as an independent partition-orchestrator each,
// so a single consumer group can drive, e.g., a Router topic with one
// strategy and a dead-letter-aware batch topic with another.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"profilesync"

	"github.com/sourcegraph/conc/pool"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kslog"
	"go.opentelemetry.io/otel"
)

// Header represents a Kafka message header.
type Header struct {
	Key   string
	Value []byte
}

// Message represents a Kafka message handed to a [profilesync/queue.Processor].
type Message struct {
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time
	Topic     string
	Partition int32
	Offset    int64
	Attrs     uint8
}

// TLSConfig holds TLS/mTLS configuration for secure Kafka connections.
type TLSConfig struct {
	// Client certificate (PEM-encoded) - supports both file path and raw data.
	// If CertFile is set, it will be loaded; otherwise CertData is used.
	CertFile string
	CertData []byte

	// Client private key (PEM-encoded) - supports both file path and raw data.
	// If KeyFile is set, it will be loaded; otherwise KeyData is used.
	KeyFile string
	KeyData []byte

	// CA certificate (PEM-encoded) for verifying broker certificates.
	// If CAFile is set, it will be loaded; otherwise CAData is used.
	CAFile string
	CAData []byte

	// ServerName for SNI. If empty, the broker hostname is used.
	ServerName string

	MinVersion uint16
	MaxVersion uint16
}

// Options represents configuration options for the Kafka runtime.
type Options struct {
	groupId              string
	topics               map[string]partitionOrchestrator
	sessionTimeout       time.Duration
	rebalanceTimeout     time.Duration
	fetchMaxBytes        int32
	maxConcurrentFetches int
	tlsConfig            *TLSConfig
}

// Option configures the Kafka runtime.
type Option func(*Options)

// SessionTimeout sets the session timeout for the Kafka consumer group.
func SessionTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.sessionTimeout = d
	}
}

// RebalanceTimeout sets the rebalance timeout for the Kafka consumer group.
func RebalanceTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.rebalanceTimeout = d
	}
}

// FetchMaxBytes sets the maximum total bytes to buffer from fetch responses
// across all partitions. Default is 50 MB if not set.
func FetchMaxBytes(bytes int32) Option {
	return func(o *Options) {
		o.fetchMaxBytes = bytes
	}
}

// MaxConcurrentFetches sets the maximum number of concurrent fetch requests.
// Default is unlimited if not set.
func MaxConcurrentFetches(fetches int) Option {
	return func(o *Options) {
		o.maxConcurrentFetches = fetches
	}
}

// WithTLS configures TLS/mTLS for secure connections to Kafka brokers.
func WithTLS(cfg TLSConfig) Option {
	return func(o *Options) {
		o.tlsConfig = &cfg
	}
}

func buildTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: cfg.MinVersion,
		MaxVersion: cfg.MaxVersion,
		ServerName: cfg.ServerName,
	}

	var certData, keyData []byte
	var err error

	if cfg.CertFile != "" {
		certData, err = os.ReadFile(cfg.CertFile)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to read client certificate file %q: %w", cfg.CertFile, err)
		}
	} else if len(cfg.CertData) > 0 {
		certData = cfg.CertData
	}

	if cfg.KeyFile != "" {
		keyData, err = os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to read client key file %q: %w", cfg.KeyFile, err)
		}
	} else if len(cfg.KeyData) > 0 {
		keyData = cfg.KeyData
	}

	if len(certData) > 0 && len(keyData) > 0 {
		cert, err := tls.X509KeyPair(certData, keyData)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to load client certificate and key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	var caData []byte
	if cfg.CAFile != "" {
		caData, err = os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to read CA certificate file %q: %w", cfg.CAFile, err)
		}
	} else if len(cfg.CAData) > 0 {
		caData = cfg.CAData
	}

	if len(caData) > 0 {
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("kafka: failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

// Runtime is the Kafka consumer-group runtime. It implements
// [profilesync/queue.Runtime].
type Runtime struct {
	brokers              []string
	groupID              string
	topics               map[string]partitionOrchestrator
	sessionTimeout       time.Duration
	rebalanceTimeout     time.Duration
	fetchMaxBytes        int32
	maxConcurrentFetches int
	tlsConfig            *TLSConfig
}

// NewRuntime creates a new Kafka runtime with the provided brokers, group ID, and options.
// At least one topic must be configured via [AtLeastOnce] or [AtMostOnce].
func NewRuntime(brokers []string, groupID string, opts ...Option) Runtime {
	cfg := &Options{
		groupId:              groupID,
		topics:               make(map[string]partitionOrchestrator),
		sessionTimeout:       45 * time.Second,
		rebalanceTimeout:     30 * time.Second,
		fetchMaxBytes:        50 * 1024 * 1024,
		maxConcurrentFetches: 0,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.topics) == 0 {
		panic("kafka: at least one topic must be configured to consume from")
	}

	return Runtime{
		brokers:              brokers,
		groupID:              groupID,
		topics:               cfg.topics,
		sessionTimeout:       cfg.sessionTimeout,
		rebalanceTimeout:     cfg.rebalanceTimeout,
		fetchMaxBytes:        cfg.fetchMaxBytes,
		maxConcurrentFetches: cfg.maxConcurrentFetches,
		tlsConfig:            cfg.tlsConfig,
	}
}

// ProcessQueue starts the consumer group and runs until ctx is cancelled.
func (r Runtime) ProcessQueue(ctx context.Context) error {
	log := logger().With(GroupIDAttr(r.groupID))
	loop := newEventLoop(ctx, log, r.topics)

	clientOpts := []kgo.Opt{
		kgo.WithLogger(kslog.New(profilesync.Logger("twmb/franz-go/pkg/kgo"))),
		kgo.WithHooks(
			kotel.NewTracer(
				kotel.TracerProvider(otel.GetTracerProvider()),
				kotel.TracerPropagator(otel.GetTextMapPropagator()),
				kotel.LinkSpans(),
				kotel.ConsumerGroup(r.groupID),
			),
			kotel.NewMeter(
				kotel.MeterProvider(otel.GetMeterProvider()),
				kotel.WithMergedConnectsMeter(),
			),
		),
		kgo.SeedBrokers(r.brokers...),
		kgo.ConsumerGroup(r.groupID),
		kgo.ConsumeTopics(slices.Collect(maps.Keys(r.topics))...),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.SessionTimeout(r.sessionTimeout),
		kgo.RebalanceTimeout(r.rebalanceTimeout),
		kgo.FetchMaxBytes(r.fetchMaxBytes),
		kgo.MaxConcurrentFetches(r.maxConcurrentFetches),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(loop.onPartitionsAssigned(ctx)),
		kgo.OnPartitionsRevoked(loop.onPartitionsRevoked(ctx)),
		kgo.OnPartitionsLost(loop.onPartitionsLost(ctx)),
	}

	if r.tlsConfig != nil {
		tlsCfg, err := buildTLSConfig(r.tlsConfig)
		if err != nil {
			return err
		}
		clientOpts = append(clientOpts, kgo.DialTLSConfig(tlsCfg))
	}

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return fmt.Errorf("kafka: failed to create client: %w", err)
	}
	defer client.Close()

	p := pool.New().WithContext(ctx)
	p.Go(loop.fetchRecords(client))
	p.Go(loop.run)

	return p.Wait()
}
