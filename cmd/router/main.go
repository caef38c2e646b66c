// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command router consumes the raw sync-events topic and forwards each
// record, byte-identical, to the immediate-sync-events or
// batch-sync-events topic based on the event's priority (spec §4.1).
package main

import (
	_ "embed"
	"bytes"
	"context"
	"fmt"
	"net"

	"profilesync/admin"
	"profilesync/app"
	"profilesync/internal/httpserver"
	"profilesync/metrics"
	"profilesync/queue"
	"profilesync/queue/kafka"
	"profilesync/sync"

	"github.com/sourcegraph/conc/pool"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
)

//go:embed default_config.yaml
var defaultConfig []byte

// Config is the router binary's configuration.
type Config struct {
	queue.Config `config:",squash"`

	Kafka struct {
		Brokers        []string `config:"brokers"`
		GroupID        string   `config:"group_id"`
		InputTopic     string   `config:"input_topic"`
		ImmediateTopic string   `config:"immediate_topic"`
		BatchTopic     string   `config:"batch_topic"`
	} `config:"kafka"`

	Admin struct {
		Addr string `config:"addr"`
	} `config:"admin"`
}

func main() {
	queue.Run(bytes.NewReader(defaultConfig), build)
}

func build(ctx context.Context, cfg Config) (*queue.App, error) {
	builder := app.WithHooks(func(ctx context.Context, h *app.HookRegistry) (routerRuntime, error) {
		producer, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
		if err != nil {
			return routerRuntime{}, fmt.Errorf("router: failed to create producer client: %w", err)
		}
		h.OnPostRun(func(context.Context) error {
			producer.Close()
			return nil
		})

		m, err := metrics.New(otel.GetMeterProvider())
		if err != nil {
			return routerRuntime{}, fmt.Errorf("router: failed to build metrics recorder: %w", err)
		}

		router := sync.NewRouter(producer, cfg.Kafka.ImmediateTopic, cfg.Kafka.BatchTopic, m)

		kafkaRuntime := kafka.NewRuntime(
			cfg.Kafka.Brokers,
			cfg.Kafka.GroupID,
			kafka.AtLeastOnce(cfg.Kafka.InputTopic, router),
		)

		ls, err := net.Listen("tcp", cfg.Admin.Addr)
		if err != nil {
			return routerRuntime{}, fmt.Errorf("router: failed to bind admin listener: %w", err)
		}

		return routerRuntime{
			kafka: kafkaRuntime,
			admin: httpserver.NewApp(ls, admin.New()),
		}, nil
	})

	rt, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	return queue.NewApp(queueRuntime{rt}), nil
}

// routerRuntime runs the Kafka consumer loop and the admin HTTP server
// concurrently for the lifetime of the process, same as [kafka.Runtime]'s
// own partition-level fan-out pattern.
type routerRuntime struct {
	kafka kafka.Runtime
	admin *httpserver.App
}

func (rt routerRuntime) Run(ctx context.Context) error {
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
