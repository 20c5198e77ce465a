// Package allowlist decides whether an inbound chat event is in scope.
package allowlist

import (
	"strings"
	"sync/atomic"

	"github.com/harun/docrelay/pkg/chat"
)

// Decision is the outcome of a filter check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Rules configure a Filter.
type Rules struct {
	Groups  []string // allowed group display names
	Numbers []string // allowed direct-message sender identifiers

	// Production skips group-name checks; group membership is vetted provider-side.
	// Direct messages are filtered in every mode.
	Production bool
}

type compiled struct {
	groups     map[string]struct{}
	numbers    map[string]struct{}
	production bool
}

// Filter is a pure predicate over inbound events. Rules can be swapped at runtime.
type Filter struct {
	rules atomic.Pointer[compiled]
}

// New creates a filter with the given rules.
func New(rules Rules) *Filter {
	f := &Filter{}
	f.Update(rules)
	return f
}

// Update replaces the active rules.
func (f *Filter) Update(rules Rules) {
	c := &compiled{
		groups:     toSet(rules.Groups),
		numbers:    toSet(rules.Numbers),
		production: rules.Production,
	}
	f.rules.Store(c)
}

// Check returns Allow or Deny for the event.
func (f *Filter) Check(ev chat.InboundEvent) Decision {
	c := f.rules.Load()
	if ev.IsGroup {
		if c.production {
			return Allow
		}
		if _, ok := c.groups[ev.ChatName]; ok {
			return Allow
		}
		return Deny
	}
	if _, ok := c.numbers[ev.SourceID]; ok {
		return Allow
	}
	return Deny
}

// Allowed is shorthand for Check(ev) == Allow.
func (f *Filter) Allowed(ev chat.InboundEvent) bool {
	return f.Check(ev) == Allow
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
