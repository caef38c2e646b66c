// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command immediate-consumer consumes the immediate-sync-events topic,
// applies each event through the Synchronizer with bounded retries, and
// demotes a record to the batch path after retry exhaustion (spec §4.2).
package main

import (
	_ "embed"
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"profilesync/admin"
	"profilesync/app"
	"profilesync/document"
	"profilesync/internal/httpserver"
	"profilesync/metrics"
	"profilesync/queue"
	"profilesync/queue/kafka"
	"profilesync/sync"
	"profilesync/version"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc/pool"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel"
)

//go:embed default_config.yaml
var defaultConfig []byte

// Config is the immediate-consumer binary's configuration.
type Config struct {
	queue.Config `config:",squash"`

	Kafka struct {
		Brokers        []string `config:"brokers"`
		GroupID        string   `config:"group_id"`
		ImmediateTopic string   `config:"immediate_topic"`
		BatchTopic     string   `config:"batch_topic"`
	} `config:"kafka"`

	Retry struct {
		Attempts      int           `config:"attempts"`
		Backoff       time.Duration `config:"backoff"`
		BackoffFactor float64       `config:"backoff_factor"`
	} `config:"retry"`

	Postgres struct {
		DSN          string        `config:"dsn"`
		ApplyTimeout time.Duration `config:"apply_timeout"`
	} `config:"postgres"`

	Valkey struct {
		Addr        string        `config:"addr"`
		LockTimeout time.Duration `config:"lock_timeout"`
	} `config:"valkey"`

	Admin struct {
		Addr string `config:"addr"`
	} `config:"admin"`
}

func main() {
	queue.Run(bytes.NewReader(defaultConfig), build)
}

func build(ctx context.Context, cfg Config) (*queue.App, error) {
	builder := app.WithHooks(func(ctx context.Context, h *app.HookRegistry) (consumerRuntime, error) {
		pgPool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return consumerRuntime{}, fmt.Errorf("immediate-consumer: failed to connect to postgres: %w", err)
		}
		h.OnPostRun(func(context.Context) error {
			pgPool.Close()
			return nil
		})

		vk, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}})
		if err != nil {
			return consumerRuntime{}, fmt.Errorf("immediate-consumer: failed to connect to valkey: %w", err)
		}
		h.OnPostRun(func(context.Context) error {
			vk.Close()
			return nil
		})

		producer, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
		if err != nil {
			return consumerRuntime{}, fmt.Errorf("immediate-consumer: failed to create producer client: %w", err)
		}
		h.OnPostRun(func(context.Context) error {
			producer.Close()
			return nil
		})

		m, err := metrics.New(otel.GetMeterProvider())
		if err != nil {
			return consumerRuntime{}, fmt.Errorf("immediate-consumer: failed to build metrics recorder: %w", err)
		}

		docs := document.NewPostgresStore(pgPool, cfg.Postgres.ApplyTimeout)
		versions := version.NewManager(vk)
		synchronizer := sync.NewSynchronizer(docs, versions, m, cfg.Valkey.LockTimeout)

		processor := sync.NewImmediateProcessor(
			synchronizer,
			producer,
			cfg.Kafka.BatchTopic,
			cfg.Retry.Attempts,
			cfg.Retry.Backoff,
			cfg.Retry.BackoffFactor,
			m,
		)

		kafkaRuntime := kafka.NewRuntime(
			cfg.Kafka.Brokers,
			cfg.Kafka.GroupID,
			kafka.AtLeastOnce(cfg.Kafka.ImmediateTopic, processor),
		)

		ls, err := net.Listen("tcp", cfg.Admin.Addr)
		if err != nil {
			return consumerRuntime{}, fmt.Errorf("immediate-consumer: failed to bind admin listener: %w", err)
		}

		return consumerRuntime{
			kafka: kafkaRuntime,
			admin: httpserver.NewApp(ls, admin.New(admin.Versions(versions))),
		}, nil
	})

	rt, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	return queue.NewApp(queueRuntime{rt}), nil
}

// consumerRuntime runs the Kafka consumer loop and the admin HTTP server
// concurrently for the lifetime of the process.
type consumerRuntime struct {
	kafka kafka.Runtime
	admin *httpserver.App
}

func (rt consumerRuntime) Run(ctx context.Context) error {
	p := pool.New().WithContext(ctx)
	p.Go(rt.kafka.ProcessQueue)
	p.Go(rt.admin.Run)
	return p.Wait()
}

// queueRuntime adapts an [app.Runtime] to [queue.Runtime] so builders that
// register cleanup hooks via [app.WithHooks] can still back a [queue.App].
type queueRuntime struct {
	inner app.Runtime
}

func (a queueRuntime) ProcessQueue(ctx context.Context) error {
	return a.inner.Run(ctx)
}
