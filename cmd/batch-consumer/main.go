// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command batch-consumer consumes the batch-sync-events topic, applies
// each event through the Synchronizer with per-record error isolation,
// and archives permanently-failed records to object storage for operator
// replay (spec §4.3).
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
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sourcegraph/conc/pool"
	"github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel"
)

//go:embed default_config.yaml
var defaultConfig []byte

// Config is the batch-consumer binary's configuration.
type Config struct {
	queue.Config `config:",squash"`

	Kafka struct {
		Brokers    []string `config:"brokers"`
		GroupID    string   `config:"group_id"`
		BatchTopic string   `config:"batch_topic"`
	} `config:"kafka"`

	Postgres struct {
		DSN          string        `config:"dsn"`
		ApplyTimeout time.Duration `config:"apply_timeout"`
	} `config:"postgres"`

	Valkey struct {
		Addr        string        `config:"addr"`
		LockTimeout time.Duration `config:"lock_timeout"`
	} `config:"valkey"`

	DeadLetter struct {
		Enabled   bool   `config:"enabled"`
		Endpoint  string `config:"endpoint"`
		AccessKey string `config:"access_key"`
		SecretKey string `config:"secret_key"`
		Bucket    string `config:"bucket"`
		UseSSL    bool   `config:"use_ssl"`
	} `config:"dead_letter"`

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
			return consumerRuntime{}, fmt.Errorf("batch-consumer: failed to connect to postgres: %w", err)
		}
		h.OnPostRun(func(context.Context) error {
			pgPool.Close()
			return nil
		})

		vk, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}})
		if err != nil {
			return consumerRuntime{}, fmt.Errorf("batch-consumer: failed to connect to valkey: %w", err)
		}
		h.OnPostRun(func(context.Context) error {
			vk.Close()
			return nil
		})

		m, err := metrics.New(otel.GetMeterProvider())
		if err != nil {
			return consumerRuntime{}, fmt.Errorf("batch-consumer: failed to build metrics recorder: %w", err)
		}

		docs := document.NewPostgresStore(pgPool, cfg.Postgres.ApplyTimeout)
		versions := version.NewManager(vk)
		synchronizer := sync.NewSynchronizer(docs, versions, m, cfg.Valkey.LockTimeout)

		var deadLetter sync.DeadLetterSink
		if cfg.DeadLetter.Enabled {
			mc, merr := minio.New(cfg.DeadLetter.Endpoint, &minio.Options{
				Creds:  credentials.NewStaticV4(cfg.DeadLetter.AccessKey, cfg.DeadLetter.SecretKey, ""),
				Secure: cfg.DeadLetter.UseSSL,
			})
			if merr != nil {
				return consumerRuntime{}, fmt.Errorf("batch-consumer: failed to create object storage client: %w", merr)
			}
			deadLetter = sync.NewMinioDeadLetterSink(mc, cfg.DeadLetter.Bucket)
		}

		processor := sync.NewBatchProcessor(synchronizer, deadLetter, m)

		kafkaRuntime := kafka.NewRuntime(
			cfg.Kafka.Brokers,
			cfg.Kafka.GroupID,
			kafka.AtLeastOnce(cfg.Kafka.BatchTopic, processor),
		)

		ls, err := net.Listen("tcp", cfg.Admin.Addr)
		if err != nil {
			return consumerRuntime{}, fmt.Errorf("batch-consumer: failed to bind admin listener: %w", err)
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
