package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/config"
	"github.com/halcyon-labs/mcpbridge/pkg/logging"
)

var (
	flagPort int
	flagHost string
	flagTransport string
	flagNamedServer []string
	flagNamedServerConfig string
	flagBridgeConfig string
	flagPassEnvironment bool
	flagEnv []string
	flagHeaders []string
	flagAllowOrigin string
	flagStateless bool
	flagDebug bool
	flagRetryRemote bool
	flagRemoteRetries int
	flagLogLevel string
	flagSSEHost string
	flagSSEPort int
)

// Execute builds and runs the root command, cancelling its context on
// SIGINT/SIGTERM so the bridge gets a chance at graceful shutdown.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use: "mcpbridge [command] [args...]",
		Short: "Transport-switching proxy and aggregating bridge for MCP servers",
		Version: Version,
		Args: cobra.ArbitraryArgs,
		RunE: runRoot,
	}

	root.Flags().IntVar(&flagPort, "port", 8080, "Port to expose the HTTP surface on")
	root.Flags().StringVar(&flagHost, "host", "127.0.0.1", "Host to bind the HTTP surface to")
	root.Flags().StringVar(&flagTransport, "transport", "", "sse|streamablehttp: run as a stdio client of the URL positional instead of starting a bridge")
	root.Flags().StringArrayVar(&flagNamedServer, "named-server", nil, `"name:command args..." (repeatable)`)
	root.Flags().StringVar(&flagNamedServerConfig, "named-server-config", "", "path to a named-server config file (exclusive source when set)")
	root.Flags().StringVar(&flagBridgeConfig, "bridge-config", "", "path to a full bridge config file")
	root.Flags().BoolVar(&flagPassEnvironment, "pass-environment", false, "pass the bridge's own environment through to spawned stdio servers")
	root.Flags().StringArrayVarP(&flagEnv, "env", "e", nil, "KEY=VALUE for the default stdio server (repeatable)")
	root.Flags().StringArrayVarP(&flagHeaders, "headers", "H", nil, "KEY=VALUE for client-mode requests (repeatable)")
	root.Flags().StringVar(&flagAllowOrigin, "allow-origin", "", "CORS Access-Control-Allow-Origin value (default *)")
	root.Flags().BoolVar(&flagStateless, "stateless", false, "disable Mcp-Session-Id tracking for streamable HTTP")
	root.Flags().BoolVar(&flagDebug, "debug", false, "raise the log level to debug")
	root.Flags().BoolVar(&flagRetryRemote, "retry-remote", false, "retry once on TransportReset/SessionTerminated from outbound backends")
	root.Flags().IntVar(&flagRemoteRetries, "remote-retries", 1, "remote retry budget when --retry-remote is set (0 disables; any value of 1 or more allows one retry)")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "debug|info|warn|error (default from config, else info)")
	root.Flags().StringVar(&flagSSEHost, "sse-host", "", "(deprecated) same as --host")
	root.Flags().IntVar(&flagSSEPort, "sse-port", 0, "(deprecated) same as --port")
	_ = root.Flags().MarkDeprecated("sse-host", "use --host")
	_ = root.Flags().MarkDeprecated("sse-port", "use --port")

	root.AddCommand(versionCmd())

	return root
}

func runRoot(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger()
	if err != nil {
		return configError(err)
	}
	defer logger.Sync() //nolint:errcheck

	if flagTransport != "" {
		return runClientMode(cmd.Context(), logger, args)
	}

	return runBridgeMode(cmd.Context(), logger, args)
}

// buildLogger merges the ambient viper settings with
// --debug/--log-level overrides into the logger the rest of the process
// shares, per pkg/logging's "configured once, threaded explicitly" design.
func buildLogger() (*zap.Logger, error) {
	v := config.NewViper()
	_ = v.ReadInConfig()

	level := flagLogLevel
	if level == "" {
		level = v.GetString("log.level")
	}

	if flagDebug {
		level = "debug"
	}

	opts := logging.Options{
		Level: level,
		Format: v.GetString("log.format"),
		Output: "stderr",
		IncludeCaller: flagDebug,
		Sampling: logging.SamplingOptions{
			Enabled: v.GetBool("log.sampling.enabled"),
			Initial: v.GetInt("log.sampling.initial"),
			Thereafter: v.GetInt("log.sampling.thereafter"),
		},
	}

	return logging.New(opts)
}
