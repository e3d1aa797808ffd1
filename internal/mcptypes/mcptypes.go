// Package mcptypes carries the MCP method vocabulary and the payload shapes
// the bridge must understand rather than treat as opaque pass-through JSON:
// the initialize handshake, capability descriptors, and the tool/resource/
// prompt list/call shapes the aggregator namespaces and routes.
package mcptypes

// Method names recognized by the core. Anything else is
// pass-through: forwarded verbatim when there is a single backend, or
// rejected with MethodNotFound when the aggregator cannot route it.
const (
	MethodInitialize = "initialize"
	NotificationInitialized = "notifications/initialized"
	MethodPing = "ping"

	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourceTemplatesList = "resources/templates/list"
	MethodResourcesRead = "resources/read"
	MethodResourcesSubscribe = "resources/subscribe"
	MethodResourcesUnsubscribe = "resources/unsubscribe"
	MethodPromptsList = "prompts/list"
	MethodPromptsGet = "prompts/get"
	MethodLoggingSetLevel = "logging/setLevel"
	MethodCompletionComplete = "completion/complete"

	NotificationToolsListChanged = "notifications/tools/list_changed"
	NotificationResourcesListChanged = "notifications/resources/list_changed"
	NotificationResourcesUpdated = "notifications/resources/updated"
	NotificationPromptsListChanged = "notifications/prompts/list_changed"
	NotificationMessage = "notifications/message"
	NotificationProgress = "notifications/progress"
	NotificationCancelled = "notifications/cancelled"
)

// ProtocolVersion is the MCP protocol version this bridge declares during
// initialize. Backends that negotiate a different version are accepted as
// long as the handshake itself succeeds; the bridge does not enforce a
// strict version match (spec is silent on cross-version behavior).
const ProtocolVersion = "2024-11-05"

// ClientInfo/ServerInfo identify the two ends of an MCP session during
// initialize.
type Implementation struct {
	Name string `json:"name"`
	Version string `json:"version"`
}

// Capabilities is the subset of the initialize capability object the bridge
// inspects: presence of a top-level key signals support, regardless of its
// (possibly empty) value.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts *PromptsCapability `json:"prompts,omitempty"`
	Logging map[string]any `json:"logging,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is what a peer sends to initiate the handshake.
type InitializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	Capabilities Capabilities `json:"capabilities"`
	ClientInfo Implementation `json:"clientInfo"`
}

// InitializeResult is what the other peer answers with.
type InitializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	Capabilities Capabilities `json:"capabilities"`
	ServerInfo Implementation `json:"serverInfo"`
}

// Tool is one entry of a tools/list result, carried opaquely except for the
// Name field the bridge rewrites for namespacing.
type Tool struct {
	Name string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type CallToolParams struct {
	Name string `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

type CallToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

// Resource is one entry of a resources/list result; URI is rewritten for
// namespacing the same way Tool.Name is.
type Resource struct {
	URI string `json:"uri"`
	Name string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

type ReadResourceParams struct {
	URI string `json:"uri"`
}

// Prompt is one entry of a prompts/list result; Name is rewritten for
// namespacing.
type Prompt struct {
	Name string `json:"name"`
	Description string `json:"description,omitempty"`
	Arguments []PromptArgument `json:"arguments,omitempty"`
}

type PromptArgument struct {
	Name string `json:"name"`
	Description string `json:"description,omitempty"`
	Required bool `json:"required,omitempty"`
}

type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

type GetPromptParams struct {
	Name string `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CancelledParams is the payload of notifications/cancelled.
type CancelledParams struct {
	RequestID any `json:"requestId"`
	Reason string `json:"reason,omitempty"`
}
