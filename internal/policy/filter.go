package policy

import (
	"github.com/coreroute/corerouted/internal/rip"
)

// DenyTag is appended to a route's policy tags when a filter in the
// chain rejects it. The route database itself has no concept of
// rejection (PushRoutes only ever retags); callers that care whether a
// route was denied check for this tag on the pushed result, the same
// way RFC-era RIP implementations represented a denied route as
// metric-16 rather than removing it outright.
const DenyTag = "deny"

// Result is what a single Filter returns for one route.
type Result struct {
	Accept bool
	Tags   []string
}

// Filter is a pluggable pass/transform predicate over a route: it may
// accept or reject the route and may rewrite its policy tags. Built-ins
// are registered in the kind registry; Configure builds one from an
// opaque config string.
type Filter interface {
	Evaluate(r rip.Route) Result
}

// FilterKind constructs a Filter from the part of a configure() config
// string following the kind name.
type FilterKind func(config string) (Filter, error)

var kinds = map[string]FilterKind{}

func registerKind(name string, ctor FilterKind) {
	kinds[name] = ctor
}

func init() {
	registerKind("permit-all", newPermitAll)
	registerKind("deny-all", newDenyAll)
	registerKind("prefix-list", newPrefixList)
	registerKind("tag-set", newTagSet)
}
