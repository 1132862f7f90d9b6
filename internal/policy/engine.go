package policy

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/coreroute/corerouted/internal/rip"
)

type configuredFilter struct {
	kind   string
	config string
	filter Filter
}

// Engine holds the set of configured filters by integer id (§6's
// "Policy filters" external interface) and applies an ordered chain of
// them across a route snapshot to produce the tag map push_routes()
// hands to RouteDb.PushRoutes.
type Engine struct {
	mu      sync.RWMutex
	filters map[int]configuredFilter
}

func NewEngine() *Engine {
	return &Engine{filters: make(map[int]configuredFilter)}
}

// Configure implements configure(filter_id, config_str). config_str is
// "<kind> <kind-specific config>", e.g. "prefix-list 10.0.0.0/8" or
// "permit-all". Re-configuring an existing id replaces it outright.
func (e *Engine) Configure(filterID int, configStr string) error {
	kind, rest, _ := strings.Cut(strings.TrimSpace(configStr), " ")
	ctor, ok := kinds[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFilterKind, kind)
	}
	f, err := ctor(strings.TrimSpace(rest))
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.filters[filterID] = configuredFilter{kind: kind, config: rest, filter: f}
	e.mu.Unlock()
	return nil
}

// Reset implements reset(filter_id): the filter id becomes unconfigured,
// so any route evaluated against it is left unchanged (implicit permit).
func (e *Engine) Reset(filterID int) {
	e.mu.Lock()
	delete(e.filters, filterID)
	e.mu.Unlock()
}

// Configured reports whether filterID currently has a filter installed.
func (e *Engine) Configured(filterID int) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.filters[filterID]
	return ok
}

// Apply runs every route in routes through the filter chain named by
// order (evaluated in sequence; an unconfigured id is skipped), and
// returns the prefix -> tags map to feed RouteDb.PushRoutes. A route
// rejected by any filter in the chain keeps evaluating through the rest
// so later tag-set filters can still annotate it, but ends up carrying
// DenyTag.
func (e *Engine) Apply(order []int, routes []rip.Route) map[netip.Prefix][]string {
	e.mu.RLock()
	chain := make([]Filter, 0, len(order))
	for _, id := range order {
		if cf, ok := e.filters[id]; ok {
			chain = append(chain, cf.filter)
		}
	}
	e.mu.RUnlock()

	out := make(map[netip.Prefix][]string, len(routes))
	for _, r := range routes {
		cur := r
		accepted := true
		for _, f := range chain {
			res := f.Evaluate(cur)
			cur.PolicyTags = res.Tags
			if !res.Accept {
				accepted = false
			}
		}
		if !accepted {
			cur.PolicyTags = appendTag(cur.PolicyTags, DenyTag)
		}
		out[r.Prefix] = cur.PolicyTags
	}
	return out
}
