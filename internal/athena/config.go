package athena

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/dispatch"
	"github.com/autopeer-io/athena/internal/athena/core/engine"
	"github.com/autopeer-io/athena/internal/athena/core/history"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/internal/athena/core/officer"
	"github.com/autopeer-io/athena/internal/athena/core/registry"
	"github.com/autopeer-io/athena/internal/athena/core/service"
	"github.com/autopeer-io/athena/internal/athena/notifier"
	"github.com/autopeer-io/athena/internal/athena/server"
	"github.com/autopeer-io/athena/internal/athena/server/grpc"
	"github.com/autopeer-io/athena/internal/athena/server/http"
	"github.com/autopeer-io/athena/internal/athena/server/mqtt"
	"github.com/autopeer-io/athena/internal/athena/storage"
	"github.com/autopeer-io/athena/internal/athena/watchlist"
	"github.com/autopeer-io/athena/internal/pkg/metrics"
	"github.com/autopeer-io/athena/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/athena/pkg/log"
	pkgmqtt "github.com/autopeer-io/athena/pkg/mqtt"
	"github.com/autopeer-io/athena/pkg/mqtt/topic"
	"github.com/autopeer-io/athena/pkg/options"
)

var errBrokerDisconnected = errors.New("broker disconnected")

const (
	publishTimeout = 5 * time.Second
	gaugeInterval  = 15 * time.Second
)

type Config struct {
	MqttOptions      *options.MqttOptions
	HttpOptions      *options.HttpOptions
	GrpcOptions      *options.GrpcOptions
	S3Options        *options.S3Options
	EngineOptions    *options.EngineOptions
	DispatchOptions  *options.DispatchOptions
	WatchlistOptions *options.WatchlistOptions
}

// EngineConfig converts the engine options.
func (cfg *Config) EngineConfig() engine.Config {
	o := cfg.EngineOptions
	return engine.Config{
		ScanRadius:      o.ScanRadius,
		AlertRadius:     o.AlertRadius,
		MaxHeadingDelta: o.MaxHeadingDelta,
		HeadingWindow:   o.HeadingWindow,
		MinSpeedMps:     o.MinSpeedMps,
		PathHorizon:     o.PathHorizon,
		PathStep:        o.PathStep,
	}
}

// DispatchConfig converts the dispatch options.
func (cfg *Config) DispatchConfig() dispatch.Config {
	o := cfg.DispatchOptions
	return dispatch.Config{
		ReAlertInterval: o.ReAlertInterval,
		AlertTTL:        o.AlertTTL,
		Retention:       o.Retention,
		SweepInterval:   o.SweepInterval,
		Backoff:         wait.Backoff{Duration: o.RetryBackoff, Factor: 2, Steps: o.Attempts},
		Workers:         o.Workers,
		QueueSize:       o.QueueSize,
	}
}

// NewAthenaServer wires adapters, core and servers together.
func (cfg *Config) NewAthenaServer(logger log.Logger) (*AthenaServer, error) {
	clk := clock.RealClock{}
	m := metrics.New()
	topics := topic.NewBuilder(cfg.MqttOptions.TopicRoot)

	// Ingress and egress use separate connections so a slow subscriber
	// callback never stalls outbound alerts.
	ingressCfg := cfg.MqttOptions.ToClientConfig("in")
	statusTopic := topics.Build(paths.Status, ingressCfg.ClientID)
	ingressCfg.WillTopic = statusTopic
	ingressCfg.WillPayload = mqtt.StatusPayload(false, clk.Now())
	ingressCfg.WillQoS = byte(cfg.MqttOptions.QoS)
	ingressCfg.WillRetain = true
	ingressCfg.OnConnectionChange = connectivityGauge(m, "ingress")
	ingress, err := pkgmqtt.NewClient(ingressCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init ingress mqtt client: %w", err)
	}

	egressCfg := cfg.MqttOptions.ToClientConfig("out")
	egressCfg.OnConnectionChange = connectivityGauge(m, "egress")
	egress, err := pkgmqtt.NewClient(egressCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init egress mqtt client: %w", err)
	}

	// Infrastructure: Notifier (Secondary Adapter)
	var svc *service.Service
	hub := notifier.NewWebSocketHub(func(ctx context.Context, ev model.InboundEvent) error {
		_, err := svc.Handle(ctx, ev)
		return err
	}, logger)
	mqttNotifier := notifier.NewMQTTNotifier(egress, topics, cfg.MqttOptions.QoS, publishTimeout)

	dispatcher, err := dispatch.New(cfg.DispatchConfig(), []core.Channel{hub, mqttNotifier}, mqttNotifier, clk, m, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init dispatcher: %w", err)
	}

	// Infrastructure: Storage (Secondary Adapter)
	var (
		audit     core.AuditSink
		auditTask func(context.Context) error
	)
	if cfg.S3Options.Enabled() {
		sink, err := storage.NewMinIO(cfg.S3Options, clk, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init audit storage: %w", err)
		}
		audit, auditTask = sink, sink.Start
	} else {
		audit = storage.NewLogSink(logger)
	}

	// Core Domain Service
	reg := registry.New(registry.Config{
		CriticalThreshold:  cfg.EngineOptions.CriticalThreshold,
		ViolationThreshold: cfg.EngineOptions.ViolationThreshold,
	}, clk, logger)
	officers := officer.New(clk, cfg.EngineOptions.OfficerStaleAfter)
	eng := engine.New(cfg.EngineConfig(), reg, history.New(clk), officers, dispatcher, audit, clk, m, logger)
	svc = service.New(reg, officers, eng, dispatcher, clk, m, logger)

	var watcher *watchlist.Watcher
	if cfg.WatchlistOptions.Enabled() {
		watcher = watchlist.New(cfg.WatchlistOptions.File, cfg.WatchlistOptions.Debounce, svc, clk, logger)
	}

	// Ingress Servers (Primary Adapters)
	ready := []http.Check{
		{Name: "mqtt-ingress", Fn: connected(ingress)},
		{Name: "mqtt-egress", Fn: connected(egress)},
	}
	router := http.NewRouter(&http.RouterConfig{
		Service:   svc,
		WebSocket: hub,
		Metrics:   m.Handler(),
		Ready:     ready,
		Timeout:   cfg.HttpOptions.Timeout,
	}, logger)
	httpServer := http.NewServer(cfg.HttpOptions, router, logger)
	httpServer.OnShutdown(hub.Close)

	grpcServer := grpc.NewServer(cfg.GrpcOptions, func() error {
		for _, c := range ready {
			if err := c.Fn(); err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
		}
		return nil
	}, logger)

	mqttServer := mqtt.NewServer(ingress, topics, cfg.MqttOptions.SharedGroup, cfg.MqttOptions.QoS,
		statusTopic, svc, logger)

	return &AthenaServer{
		log:           logger,
		serverManager: server.NewManager(logger, mqttServer, httpServer, grpcServer),
		egress:        egress,
		dispatcher:    dispatcher,
		service:       svc,
		auditTask:     auditTask,
		watcher:       watcher,
	}, nil
}

func connectivityGauge(m *metrics.Metrics, client string) func(bool) {
	return func(up bool) {
		v := 0.0
		if up {
			v = 1
		}
		m.BrokerConnectivityStatus.WithLabelValues(client).Set(v)
	}
}

func connected(c pkgmqtt.Client) func() error {
	return func() error {
		if !c.IsConnected() {
			return errBrokerDisconnected
		}
		return nil
	}
}
