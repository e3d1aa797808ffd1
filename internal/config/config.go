// Package config loads the ServerSet and Bridge descriptors from three
// sources: named-server config files, full bridge config files, and the CLI flags
// that can construct a single-backend descriptor without any file at all.
// Grounded on services/router/internal/config/config.go's viper-based
// Load()/setDefaults() pipeline, narrowed to this module's data model.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// TransportType names the three backend transport shapes
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportSSE TransportType = "sse"
	TransportHTTP TransportType = "http"
)

// HealthCheckConfig is the server descriptor's healthCheck sub-object.
type HealthCheckConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// ServerDescriptor is the per-backend configuration
type ServerDescriptor struct {
	Name string `mapstructure:"name" json:"name"`
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	Command string `mapstructure:"command" json:"command"`
	Args []string `mapstructure:"args" json:"args"`
	Env map[string]string `mapstructure:"env" json:"env"`
	PassEnvironment bool `mapstructure:"passEnvironment" json:"passEnvironment"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	TransportType TransportType `mapstructure:"transportType" json:"transportType"`
	URL string `mapstructure:"url" json:"url"`
	Headers map[string]string `mapstructure:"headers" json:"headers"`
	Stateless bool `mapstructure:"stateless" json:"stateless"`
	RetryAttempts int `mapstructure:"retryAttempts" json:"retryAttempts"`
	RetryDelay time.Duration `mapstructure:"retryDelay" json:"retryDelay"`
	RetryRemote bool `mapstructure:"retryRemote" json:"retryRemote"`
	RemoteRetries int `mapstructure:"remoteRetries" json:"remoteRetries"`
	HealthCheck HealthCheckConfig `mapstructure:"healthCheck" json:"healthCheck"`
	ToolNamespace string `mapstructure:"toolNamespace" json:"toolNamespace"`
	ResourceNamespace string `mapstructure:"resourceNamespace" json:"resourceNamespace"`
	PromptNamespace string `mapstructure:"promptNamespace" json:"promptNamespace"`
	Priority int `mapstructure:"priority" json:"priority"`
	Tags []string `mapstructure:"tags" json:"tags"`
}

// ConflictResolution names the bridge's name-collision policy.
type ConflictResolution string

const (
	ConflictNamespace ConflictResolution = "namespace"
	ConflictPriority ConflictResolution = "priority"
	ConflictFirst ConflictResolution = "first"
	ConflictError ConflictResolution = "error"
)

// AggregationConfig toggles which capability kinds the bridge unions.
type AggregationConfig struct {
	Tools bool `mapstructure:"tools" json:"tools"`
	Resources bool `mapstructure:"resources" json:"resources"`
	Prompts bool `mapstructure:"prompts" json:"prompts"`
}

// FailoverConfig is the bridge's failure-handling policy.
type FailoverConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	MaxFailures int `mapstructure:"maxFailures" json:"maxFailures"`
	RecoveryInterval time.Duration `mapstructure:"recoveryInterval" json:"recoveryInterval"`
}

// RoutingRule is a tag-based routing rule:
// when a method/name carries no explicit namespace, a rule whose Pattern
// matches the requested method prefers backends tagged with one of Tags.
type RoutingRule struct {
	Pattern string `mapstructure:"pattern" json:"pattern"`
	Tags []string `mapstructure:"tags" json:"tags"`
	Priority int `mapstructure:"priority" json:"priority"`
}

// BridgeDescriptor is the aggregating-bridge configuration
type BridgeDescriptor struct {
	ConflictResolution ConflictResolution `mapstructure:"conflictResolution" json:"conflictResolution"`
	DefaultNamespace bool `mapstructure:"defaultNamespace" json:"defaultNamespace"`
	Aggregation AggregationConfig `mapstructure:"aggregation" json:"aggregation"`
	Failover FailoverConfig `mapstructure:"failover" json:"failover"`
	RoutingRules []RoutingRule `mapstructure:"routingRules" json:"routingRules"`
}

// HTTPConfig is the ambient HTTP surface configuration
type HTTPConfig struct {
	Host string
	Port int
	AllowOrigin string
	Stateless bool
}

// ServerSet is the fully resolved configuration the bridge runtime consumes:
// every backend descriptor plus the bridge-wide policy.
type ServerSet struct {
	Servers []ServerDescriptor
	Bridge BridgeDescriptor
	HTTP HTTPConfig
}

// DefaultBridge returns the baseline BridgeDescriptor (namespace conflict
// resolution, failover enabled) that CLI-constructed bridges start from.
func DefaultBridge() BridgeDescriptor {
	return defaultBridge()
}

func defaultBridge() BridgeDescriptor {
	return BridgeDescriptor{
		ConflictResolution: ConflictNamespace,
		DefaultNamespace: true,
		Aggregation: AggregationConfig{Tools: true, Resources: true, Prompts: true},
		Failover: FailoverConfig{Enabled: true, MaxFailures: 3, RecoveryInterval: 30 * time.Second},
	}
}

// DefaultServer returns the baseline ServerDescriptor (stdio transport, the
// default timeout/retry/health-check policy) that CLI-constructed
// backends start from before flags override fields.
func DefaultServer(name string) ServerDescriptor {
	return defaultServer(name)
}

func defaultServer(name string) ServerDescriptor {
	return ServerDescriptor{
		Name: name,
		Enabled: true,
		TransportType: TransportStdio,
		Timeout: 60 * time.Second,
		RetryAttempts: 3,
		RetryDelay: time.Second,
		HealthCheck: HealthCheckConfig{Enabled: true, Interval: 30 * time.Second, Timeout: 5 * time.Second},
		Priority: 100,
	}
}

// namedServerFile mirrors the named-server config file shape:
// { "mcpServers": { "<name>": { command, args, env, enabled } } }.
type namedServerFile struct {
	MCPServers map[string]namedServerEntry `json:"mcpServers"`
}

type namedServerEntry struct {
	Command string `json:"command"`
	Args []string `json:"args"`
	Env map[string]string `json:"env"`
	Enabled *bool `json:"enabled"`
	PassEnvironment bool `json:"passEnvironment"`
}

// LoadNamedServerConfig parses the simple named-server file shape. A
// malformed top-level document is a ConfigInvalid error (exit code 1);
// malformed or disabled individual entries are skipped and returned in
// skipped for the caller to log.
func LoadNamedServerConfig(path string) (servers []ServerDescriptor, skipped []string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read named server config %s: %w", path, err)
	}

	expanded, err := ExpandEnvJSON(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("expand env in %s: %w", path, err)
	}

	var doc namedServerFile
	if err := json.Unmarshal(expanded, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse named server config %s: %w", path, err)
	}

	for name, entry := range doc.MCPServers {
		if entry.Command == "" {
			skipped = append(skipped, name+": missing command")
			continue
		}

		if entry.Enabled != nil && !*entry.Enabled {
			skipped = append(skipped, name+": disabled")
			continue
		}

		desc := defaultServer(name)
		desc.Command = entry.Command
		desc.Args = entry.Args
		desc.Env = entry.Env
		desc.PassEnvironment = entry.PassEnvironment
		servers = append(servers, desc)
	}

	return servers, skipped, nil
}

// bridgeConfigFile mirrors the bridge config file shape:
// { "mcpServers": {...full descriptors...}, "bridge": {...} }.
type bridgeConfigFile struct {
	MCPServers map[string]ServerDescriptor `json:"mcpServers"`
	Bridge BridgeDescriptor `json:"bridge"`
}

// LoadBridgeConfig parses a full bridge config file, applying env expansion
// before unmarshaling.
func LoadBridgeConfig(path string) (*ServerSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bridge config %s: %w", path, err)
	}

	expanded, err := ExpandEnvJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("expand env in %s: %w", path, err)
	}

	var doc bridgeConfigFile
	if err := json.Unmarshal(expanded, &doc); err != nil {
		return nil, fmt.Errorf("parse bridge config %s: %w", path, err)
	}

	set := &ServerSet{Bridge: defaultBridge()}
	if doc.Bridge.ConflictResolution != "" {
		set.Bridge = doc.Bridge
	} else {
		set.Bridge.RoutingRules = doc.Bridge.RoutingRules
	}

	for name, desc := range doc.MCPServers {
		merged := defaultServer(name)
		mergeServerDescriptor(&merged, desc)
		set.Servers = append(set.Servers, merged)
	}

	return set, nil
}

func mergeServerDescriptor(base *ServerDescriptor, override ServerDescriptor) {
	override.Name = base.Name
	if override.TransportType == "" {
		override.TransportType = base.TransportType
	}

	if override.Timeout == 0 {
		override.Timeout = base.Timeout
	}

	if override.RetryAttempts == 0 {
		override.RetryAttempts = base.RetryAttempts
	}

	if override.RetryDelay == 0 {
		override.RetryDelay = base.RetryDelay
	}

	if override.RemoteRetries == 0 {
		override.RemoteRetries = base.RemoteRetries
	}

	if !override.RetryRemote {
		override.RetryRemote = base.RetryRemote
	}

	if override.Priority == 0 {
		override.Priority = base.Priority
	}

	if !override.Enabled {
		override.Enabled = base.Enabled
	}

	*base = override
}

// NewViper constructs the viper instance used for ambient settings (log
// level/format/sampling, metrics path, tracing) that are not part of the wire-facing
// ServerSet. It mirrors setupViperConfig/setupViperEnvironment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MCP")
	v.AutomaticEnv()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")

	v.SetConfigName("mcpbridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mcp")
	v.AddConfigPath("/etc/mcp")

	return v
}
