// Package bridge implements the aggregating bridge: a union
// view over connected backends with namespacing, conflict resolution, and
// request routing by namespaced name.
package bridge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/halcyon-labs/mcpbridge/internal/backend"
	"github.com/halcyon-labs/mcpbridge/internal/config"
	"github.com/halcyon-labs/mcpbridge/internal/mcptypes"
)

// entry is one namespaced capability's resolution: which backend owns it
// and what its name was before namespacing.
type entry struct {
	server string
	originalName string
}

// Snapshot is an immutable capability union, published on every rebuild:
// updates take an exclusive lock and then publish a new immutable snapshot.
type Snapshot struct {
	Tools []mcptypes.Tool
	Resources []mcptypes.Resource
	Templates []mcptypes.ResourceTemplate
	Prompts []mcptypes.Prompt

	toolOwner map[string]entry
	resourceOwner map[string]entry
	promptOwner map[string]entry
}

// Union owns the capability snapshot and rebuilds it whenever a backend's
// cache changes. Snapshot takes the read lock only long enough to load the
// current pointer, and a published Snapshot is never mutated; only Rebuild
// takes the exclusive lock.
type Union struct {
	bridgeDesc config.BridgeDescriptor
	rules []compiledRule

	mu sync.RWMutex
	snapshot *Snapshot
}

type compiledRule struct {
	re *regexp.Regexp
	tags map[string]bool
	priority int
}

func NewUnion(desc config.BridgeDescriptor) *Union {
	rules := make([]compiledRule, 0, len(desc.RoutingRules))

	for _, r := range desc.RoutingRules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			continue
		}

		tagSet := make(map[string]bool, len(r.Tags))
		for _, t := range r.Tags {
			tagSet[t] = true
		}

		rules = append(rules, compiledRule{re: re, tags: tagSet, priority: r.Priority})
	}

	return &Union{bridgeDesc: desc, rules: rules, snapshot: &Snapshot{
			toolOwner: map[string]entry{}, resourceOwner: map[string]entry{}, promptOwner: map[string]entry{},
	}}
}

// Snapshot returns the current immutable capability union.
func (u *Union) Snapshot() *Snapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()

	return u.snapshot
}

// Rebuild re-unions the capability caches of every backend snapshot,
// applying namespacing and conflict resolution, and publishes a
// fresh Snapshot.
func (u *Union) Rebuild(backends []backend.Snapshot) {
	ordered := backends

	next := &Snapshot{toolOwner: map[string]entry{}, resourceOwner: map[string]entry{}, promptOwner: map[string]entry{}}

	type candidate struct {
		server string
		priority int
		original string
		wireName string
	}

	toolCandidates := map[string][]candidate{}
	resourceCandidates := map[string][]candidate{}
	promptCandidates := map[string][]candidate{}

	for _, b := range ordered {
		if b.Status != backend.StatusConnected {
			continue
		}

		ns := u.namespaceFor(b.Descriptor)

		for _, t := range b.Capabilities.Tools {
			wire := namespacedName(ns.tool, t.Name)
			toolCandidates[wire] = append(toolCandidates[wire], candidate{b.Name, b.Descriptor.Priority, t.Name, wire})
		}

		for _, r := range b.Capabilities.Resources {
			wire := namespacedURI(ns.resource, r.URI)
			resourceCandidates[wire] = append(resourceCandidates[wire], candidate{b.Name, b.Descriptor.Priority, r.URI, wire})
		}

		for _, p := range b.Capabilities.Prompts {
			wire := namespacedName(ns.prompt, p.Name)
			promptCandidates[wire] = append(promptCandidates[wire], candidate{b.Name, b.Descriptor.Priority, p.Name, wire})
		}
	}

	resolve := func(cands []candidate) (candidate, bool) {
		if len(cands) == 1 {
			return cands[0], true
		}

		switch u.bridgeDesc.ConflictResolution {
		case config.ConflictPriority:
			sort.SliceStable(cands, func(i, j int) bool {
					if cands[i].priority != cands[j].priority {
						return cands[i].priority < cands[j].priority
					}

					return cands[i].server < cands[j].server
			})

			return cands[0], true
		case config.ConflictFirst:
			return cands[0], true
		case config.ConflictError:
			return candidate{}, false
		default: // namespace: already disambiguated by ns+name; a residual collision falls through to priority
			sort.SliceStable(cands, func(i, j int) bool {
					if cands[i].priority != cands[j].priority {
						return cands[i].priority < cands[j].priority
					}

					return cands[i].server < cands[j].server
			})

			return cands[0], true
		}
	}

	for wire, cands := range toolCandidates {
		winner, ok := resolve(cands)
		if !ok {
			continue
		}

		next.toolOwner[wire] = entry{server: winner.server, originalName: winner.original}
	}

	for wire, cands := range resourceCandidates {
		winner, ok := resolve(cands)
		if !ok {
			continue
		}

		next.resourceOwner[wire] = entry{server: winner.server, originalName: winner.original}
	}

	for wire, cands := range promptCandidates {
		winner, ok := resolve(cands)
		if !ok {
			continue
		}

		next.promptOwner[wire] = entry{server: winner.server, originalName: winner.original}
	}

	for _, b := range ordered {
		if b.Status != backend.StatusConnected {
			continue
		}

		ns := u.namespaceFor(b.Descriptor)

		for _, t := range b.Capabilities.Tools {
			wire := namespacedName(ns.tool, t.Name)
			if owner, ok := next.toolOwner[wire]; ok && owner.server == b.Name {
				t.Name = wire
				next.Tools = append(next.Tools, t)
			}
		}

		for _, r := range b.Capabilities.Resources {
			wire := namespacedURI(ns.resource, r.URI)
			if owner, ok := next.resourceOwner[wire]; ok && owner.server == b.Name {
				r.URI = wire
				next.Resources = append(next.Resources, r)
			}
		}

		for _, rt := range b.Capabilities.ResourceTemplates {
			next.Templates = append(next.Templates, rt)
		}

		for _, p := range b.Capabilities.Prompts {
			wire := namespacedName(ns.prompt, p.Name)
			if owner, ok := next.promptOwner[wire]; ok && owner.server == b.Name {
				p.Name = wire
				next.Prompts = append(next.Prompts, p)
			}
		}
	}

	u.mu.Lock()
	u.snapshot = next
	u.mu.Unlock()
}

type namespaces struct {
	tool string
	resource string
	prompt string
}

func (u *Union) namespaceFor(desc config.ServerDescriptor) namespaces {
	ns := namespaces{tool: desc.ToolNamespace, resource: desc.ResourceNamespace, prompt: desc.PromptNamespace}

	if ns.tool == "" && u.bridgeDesc.DefaultNamespace {
		ns.tool = desc.Name
	}

	if ns.resource == "" && u.bridgeDesc.DefaultNamespace {
		ns.resource = desc.Name
	}

	if ns.prompt == "" && u.bridgeDesc.DefaultNamespace {
		ns.prompt = desc.Name
	}

	return ns
}

func namespacedName(ns, name string) string {
	if ns == "" {
		return name
	}

	return ns + "." + name
}

// unnamespacedName reverses namespacedName for the same namespace.
func unnamespacedName(ns, wire string) string {
	if ns == "" {
		return wire
	}

	return strings.TrimPrefix(wire, ns+".")
}

// namespacedURI applies the configurable scheme-or-prefix namespacing:
// this implementation picks a path-prefix scheme (ns + "/" + uri),
// documented as the bridge's wire contract.
func namespacedURI(ns, uri string) string {
	if ns == "" {
		return uri
	}

	return fmt.Sprintf("%s/%s", ns, uri)
}

// ResolveTool looks up the owning backend and original name for a namespaced
// tool name routing.
func (s *Snapshot) ResolveTool(name string) (server, original string, ok bool) {
	e, ok := s.toolOwner[name]
	return e.server, e.originalName, ok
}

func (s *Snapshot) ResolveResource(uri string) (server, original string, ok bool) {
	e, ok := s.resourceOwner[uri]
	return e.server, e.originalName, ok
}

func (s *Snapshot) ResolvePrompt(name string) (server, original string, ok bool) {
	e, ok := s.promptOwner[name]
	return e.server, e.originalName, ok
}

// PreferredServers returns the tag-routing candidate order for method
//: backends tagged to match the highest-priority rule whose
// pattern matches method, else nil (fall back to plain priority order).
func (u *Union) PreferredServers(method string, backends []backend.Snapshot) []string {
	var best *compiledRule

	for i := range u.rules {
		r := &u.rules[i]
		if r.re.MatchString(method) && (best == nil || r.priority < best.priority) {
			best = r
		}
	}

	if best == nil {
		return nil
	}

	var names []string

	for _, b := range backends {
		for _, tag := range b.Descriptor.Tags {
			if best.tags[tag] {
				names = append(names, b.Name)
				break
			}
		}
	}

	return names
}
