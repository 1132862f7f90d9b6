package policy

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/coreroute/corerouted/internal/rip"
)

// permitAllFilter accepts every route unchanged. config is ignored.
type permitAllFilter struct{}

func newPermitAll(config string) (Filter, error) { return permitAllFilter{}, nil }

func (permitAllFilter) Evaluate(r rip.Route) Result {
	return Result{Accept: true, Tags: r.PolicyTags}
}

// denyAllFilter rejects every route. config is ignored.
type denyAllFilter struct{}

func newDenyAll(config string) (Filter, error) { return denyAllFilter{}, nil }

func (denyAllFilter) Evaluate(r rip.Route) Result {
	return Result{Accept: false, Tags: appendTag(r.PolicyTags, DenyTag)}
}

// prefixListFilter accepts a route only if its prefix exactly matches one
// of a configured comma-separated list, e.g. "10.0.0.0/8,192.168.0.0/16".
type prefixListFilter struct {
	allow map[netip.Prefix]struct{}
}

func newPrefixList(config string) (Filter, error) {
	allow := make(map[netip.Prefix]struct{})
	for _, tok := range splitNonEmpty(config, ',') {
		p, err := netip.ParsePrefix(strings.TrimSpace(tok))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidConfig, tok, err)
		}
		allow[p] = struct{}{}
	}
	return &prefixListFilter{allow: allow}, nil
}

func (f *prefixListFilter) Evaluate(r rip.Route) Result {
	if _, ok := f.allow[r.Prefix]; ok {
		return Result{Accept: true, Tags: r.PolicyTags}
	}
	return Result{Accept: false, Tags: appendTag(r.PolicyTags, DenyTag)}
}

// tagSetFilter always accepts and adds a configured, comma-separated set
// of tags to every route that passes through it, e.g. "community-100,vpn".
type tagSetFilter struct {
	add []string
}

func newTagSet(config string) (Filter, error) {
	add := splitNonEmpty(config, ',')
	for i := range add {
		add[i] = strings.TrimSpace(add[i])
	}
	return &tagSetFilter{add: add}, nil
}

func (f *tagSetFilter) Evaluate(r rip.Route) Result {
	return Result{Accept: true, Tags: appendTag(r.PolicyTags, f.add...)}
}

func appendTag(existing []string, add ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := make([]string, 0, len(existing)+len(add))
	for _, t := range existing {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range add {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func splitNonEmpty(s string, sep rune) []string {
	var out []string
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == sep }) {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
