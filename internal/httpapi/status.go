package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/halcyon-labs/mcpbridge/internal/backend"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
	"github.com/halcyon-labs/mcpbridge/internal/secure"
)

// StatusProvider is whatever the HTTP surface asks for a /status document;
// the aggregating Bridge is the implementation the server passes in.
type StatusProvider interface {
	Backends() []backend.Snapshot
}

// ActivityTracker records the timestamp of the bridge's last frontend
// request, surfaced as /status's api_last_activity.
type ActivityTracker struct {
	mu sync.Mutex
	last time.Time
}

func (a *ActivityTracker) Touch() {
	a.mu.Lock()
	a.last = time.Now()
	a.mu.Unlock()
}

func (a *ActivityTracker) Last() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.last
}

type statusDocument struct {
	APILastActivity *time.Time `json:"api_last_activity,omitempty"`
	ServerInstances map[string]serverInstanceStatus `json:"server_instances"`
}

type serverInstanceStatus struct {
	Enabled bool `json:"enabled"`
	Command string `json:"command,omitempty"`
	Status string `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	FailureCount int `json:"failure_count"`
	LastError string `json:"last_error,omitempty"`
	Capabilities capabilitiesSummary `json:"capabilities"`
	Config map[string]any `json:"config"`
}

type capabilitiesSummary struct {
	Tools []string `json:"tools,omitempty"`
	Resources []string `json:"resources,omitempty"`
	ResourceTemplates []string `json:"resourceTemplates,omitempty"`
	Prompts []string `json:"prompts,omitempty"`
}

// StatusHandler serves the GET /status JSON document.
func StatusHandler(provider StatusProvider, activity *ActivityTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := statusDocument{ServerInstances: map[string]serverInstanceStatus{}}

		if last := activity.Last(); !last.IsZero() {
			doc.APILastActivity = &last
		}

		for _, snap := range provider.Backends() {
			doc.ServerInstances[snap.Name] = buildInstanceStatus(snap)
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(doc); err != nil {
			http.Error(w, "encode status document: "+err.Error(), http.StatusInternalServerError)
		}
	}
}

func buildInstanceStatus(snap backend.Snapshot) serverInstanceStatus {
	inst := serverInstanceStatus{
		Enabled: snap.Descriptor.Enabled,
		Command: snap.Descriptor.Command,
		Status: string(snap.Status),
		FailureCount: snap.FailureCount,
		LastError: snap.LastError,
		Capabilities: capabilitiesSummary{
			Tools: toolNames(snap.Capabilities.Tools),
			Resources: resourceURIs(snap.Capabilities.Resources),
			ResourceTemplates: templateURIs(snap.Capabilities.ResourceTemplates),
			Prompts: promptNames(snap.Capabilities.Prompts),
		},
		Config: map[string]any{
			"transportType": snap.Descriptor.TransportType,
			"url": snap.Descriptor.URL,
			"headers": secure.RedactHeaders(snap.Descriptor.Headers),
			"env": secure.RedactEnv(snap.Descriptor.Env),
			"priority": snap.Descriptor.Priority,
			"tags": snap.Descriptor.Tags,
		},
	}

	if !snap.LastSeen.IsZero() {
		lastSeen := snap.LastSeen
		inst.LastSeen = &lastSeen
	}

	return inst
}

func toolNames(tools []mcptypes.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}

	return names
}

func resourceURIs(resources []mcptypes.Resource) []string {
	uris := make([]string, 0, len(resources))
	for _, r := range resources {
		uris = append(uris, r.URI)
	}

	return uris
}

func templateURIs(templates []mcptypes.ResourceTemplate) []string {
	uris := make([]string, 0, len(templates))
	for _, t := range templates {
		uris = append(uris, t.URITemplate)
	}

	return uris
}

func promptNames(prompts []mcptypes.Prompt) []string {
	names := make([]string, 0, len(prompts))
	for _, p := range prompts {
		names = append(names, p.Name)
	}

	return names
}
