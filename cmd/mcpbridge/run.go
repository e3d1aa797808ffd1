package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/bridge"
	"github.com/halcyon-labs/mcpbridge/internal/config"
	"github.com/halcyon-labs/mcpbridge/internal/httpapi"
	"github.com/halcyon-labs/mcpbridge/internal/proxy"
	"github.com/halcyon-labs/mcpbridge/internal/session"
	"github.com/halcyon-labs/mcpbridge/pkg/metrics"
	"github.com/halcyon-labs/mcpbridge/pkg/tracing"
)

// runBridgeMode builds the ServerSet from flags/config files, starts every
// backend, and serves the HTTP surface until ctx is cancelled.
func runBridgeMode(ctx context.Context, logger *zap.Logger, args []string) error {
	set, err := buildServerSet(logger, args)
	if err != nil {
		return configError(err)
	}

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.New(promReg)

	tracer, err := tracing.New(ctx, tracingConfigFromFlags())
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background()) //nolint:errcheck

	br := bridge.New(logger, metricsReg, set.Bridge)

	for _, desc := range set.Servers {
		br.AddBackend(ctx, logger, metricsReg, desc)
	}

	onAttach := func(sess *session.Session) func() {
		metricsReg.FrontendsActive.Inc()
		detach := br.Attach(sess)

		return func() {
			metricsReg.FrontendsActive.Dec()
			detach()
		}
	}

	engine := proxy.New(logger, metricsReg, br, onAttach).WithTracer(tracer)
	server := httpapi.New(logger, set.HTTP, promReg, metricsReg, tracer, br, engine)

	err = httpapi.ListenAndServe(ctx, logger, set.HTTP, server.Handler())
	br.Shutdown()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fatalError(err)
	}

	return nil
}

// buildServerSet assembles the full ServerSet the bridge needs to start:
// either loaded whole from --bridge-config, or pieced together from
// --named-server(-config) and the positional default server.
func buildServerSet(logger *zap.Logger, args []string) (*config.ServerSet, error) {
	if flagBridgeConfig != "" {
		set, err := config.LoadBridgeConfig(flagBridgeConfig)
		if err != nil {
			return nil, err
		}

		set.HTTP = httpConfigFromFlags()

		return set, nil
	}

	set := &config.ServerSet{Bridge: config.DefaultBridge(), HTTP: httpConfigFromFlags()}

	named, err := namedServers(logger)
	if err != nil {
		return nil, err
	}

	set.Servers = append(set.Servers, named...)

	if len(args) > 0 {
		desc, err := defaultServerFromArgs(args)
		if err != nil {
			return nil, err
		}

		set.Servers = append(set.Servers, desc)
	}

	if len(set.Servers) == 0 {
		return nil, errors.New("no runnable servers configured: provide a command, --named-server, --named-server-config, or --bridge-config")
	}

	return set, nil
}

func namedServers(logger *zap.Logger) ([]config.ServerDescriptor, error) {
	if flagNamedServerConfig != "" {
		servers, skipped, err := config.LoadNamedServerConfig(flagNamedServerConfig)
		if err != nil {
			return nil, err
		}

		for _, s := range skipped {
			logger.Warn("skipping named server config entry", zap.String("reason", s))
		}

		return servers, nil
	}

	servers := make([]config.ServerDescriptor, 0, len(flagNamedServer))

	for _, raw := range flagNamedServer {
		name, command, cmdArgs, err := parseNamedServer(raw)
		if err != nil {
			return nil, fmt.Errorf("--named-server %q: %w", raw, err)
		}

		desc := config.DefaultServer(name)
		desc.Command = command
		desc.Args = cmdArgs
		desc.PassEnvironment = flagPassEnvironment
		desc.RetryRemote = flagRetryRemote
		desc.RemoteRetries = flagRemoteRetries
		servers = append(servers, desc)
	}

	return servers, nil
}

func defaultServerFromArgs(args []string) (config.ServerDescriptor, error) {
	env, err := parseKVList(flagEnv)
	if err != nil {
		return config.ServerDescriptor{}, fmt.Errorf("--env: %w", err)
	}

	desc := config.DefaultServer("default")
	desc.Command = args[0]
	desc.Args = args[1:]
	desc.PassEnvironment = flagPassEnvironment
	desc.Env = env
	desc.RetryRemote = flagRetryRemote
	desc.RemoteRetries = flagRemoteRetries

	return desc, nil
}

func httpConfigFromFlags() config.HTTPConfig {
	host := flagHost
	if flagSSEHost != "" {
		host = flagSSEHost
	}

	port := flagPort
	if flagSSEPort != 0 {
		port = flagSSEPort
	}

	return config.HTTPConfig{Host: host, Port: port, AllowOrigin: flagAllowOrigin, Stateless: flagStateless}
}

func tracingConfigFromFlags() tracing.Config {
	v := config.NewViper()
	_ = v.ReadInConfig()

	return tracing.Config{
		Enabled: v.GetBool("tracing.enabled"),
		Exporter: v.GetString("tracing.exporter"),
		OTLPEndpoint: v.GetString("tracing.otlpEndpoint"),
		SampleRatio: v.GetFloat64("tracing.sampleRatio"),
	}
}
