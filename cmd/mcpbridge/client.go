package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/backend"
	"github.com/halcyon-labs/mcpbridge/internal/config"
	"github.com/halcyon-labs/mcpbridge/internal/proxy"
	"github.com/halcyon-labs/mcpbridge/internal/transport"
	"github.com/halcyon-labs/mcpbridge/pkg/metrics"
)

// runClientMode runs mcpbridge itself as the stdio peer a host process
// launches, proxying every request to a single remote SSE or streamable-HTTP
// backend's "URL target" invocation, dispatched here via the
// --transport flag rather than by sniffing the positional argument.
func runClientMode(ctx context.Context, logger *zap.Logger, args []string) error {
	url, err := clientTargetURL(args)
	if err != nil {
		return configError(err)
	}

	headers, err := parseKVList(flagHeaders)
	if err != nil {
		return configError(err)
	}

	headers = transport.ApplyBearerToken(headers, os.Getenv("API_ACCESS_TOKEN"))

	desc := config.DefaultServer("default")
	desc.URL = url
	desc.Headers = headers
	desc.Stateless = flagStateless

	switch flagTransport {
	case "sse":
		desc.TransportType = config.TransportSSE
	case "streamablehttp", "http":
		desc.TransportType = config.TransportHTTP
	default:
		return configError(errors.New("--transport must be sse or streamablehttp"))
	}

	desc.RetryRemote = flagRetryRemote
	desc.RemoteRetries = flagRemoteRetries

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.New(promReg)

	mb := backend.New(logger, metricsReg, desc, config.DefaultBridge().Failover, nil, nil)
	mb.Start(ctx)
	defer mb.Stop()

	router := proxy.NewDirectRouter(mb)
	engine := proxy.New(logger, metricsReg, router, nil)

	frontend := transport.NewStdioFrontend(logger, os.Stdin, os.Stdout)
	sess := engine.Attach("stdio", frontend)

	select {
	case <-sess.Done():
	case <-ctx.Done():
	}

	return nil
}

// clientTargetURL resolves the remote backend URL from the positional
// argument, falling back to SSE_URL.
func clientTargetURL(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	if url := os.Getenv("SSE_URL"); url != "" {
		return url, nil
	}

	return "", errors.New("client mode requires a target URL argument or SSE_URL")
}
