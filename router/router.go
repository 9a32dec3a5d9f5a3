// Package router decides where messages go. Rules are evaluated in priority
// order; every rule that passes emits one copy of the message with its
// subject rewritten, so one input can fan out to several destinations.
package router

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/ystre/dsp/errors"
	"github.com/ystre/dsp/message"
)

// Wildcard in a rule condition matches every message.
const Wildcard = "*"

// Action decides how a rule's condition is interpreted.
type Action int

const (
	// Allow passes messages whose property equals the condition value.
	// Messages missing the property are not needed.
	Allow Action = iota

	// Deny passes messages whose property differs from the condition
	// value. Messages missing the property pass.
	Deny
)

// String returns the configuration name of the action.
func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// ParseAction converts a configuration string to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "allow":
		return Allow, nil
	case "deny":
		return Deny, nil
	default:
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: action %q", errors.ErrUnknownVariant, s),
			"Router", "ParseAction", "action parsing")
	}
}

// Rule is one routing decision. The condition is an exact match on a single
// message property; Key and Value set to Wildcard match every message.
type Rule struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`

	Key   string `yaml:"key"`
	Value string `yaml:"value"`

	Action Action `yaml:"-"`

	// Destination names the sink the routed copy is intended for.
	Destination string `yaml:"destination"`

	// Subject replaces the message subject on the routed copy.
	Subject string `yaml:"subject"`
}

func (r *Rule) wildcard() bool {
	return r.Key == Wildcard && r.Value == Wildcard
}

// Routed is one output of a routing decision.
type Routed struct {
	Destination string
	Message     message.Message
}

// Router evaluates a fixed rule set. The rule set is immutable after
// construction, so Route is safe for concurrent use.
type Router struct {
	logger *slog.Logger
	rules  []Rule
}

// New creates a router. Rules are ordered by priority, lowest first;
// priorities must be unique.
func New(logger *slog.Logger, rules ...Rule) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[int]string, len(rules))
	for _, rule := range rules {
		if prev, ok := seen[rule.Priority]; ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("rules %q and %q share priority %d", prev, rule.Name, rule.Priority),
				"Router", "New", "rule validation")
		}
		seen[rule.Priority] = rule.Name
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	return &Router{
		logger: logger.With("component", "router"),
		rules:  sorted,
	}, nil
}

// Rules returns the rules in evaluation order.
func (r *Router) Rules() []Rule {
	return r.rules
}

// Route evaluates the message against every rule. Each passing rule emits an
// independent copy with the rule's subject. An empty result means the
// message is not needed.
func (r *Router) Route(msg message.Message) []Routed {
	var out []Routed

	for i := range r.rules {
		rule := &r.rules[i]
		if !r.passes(msg, rule) {
			continue
		}

		routed := msg.Clone()
		routed.Subject = rule.Subject
		out = append(out, Routed{
			Destination: rule.Destination,
			Message:     routed,
		})
	}
	return out
}

func (r *Router) passes(msg message.Message, rule *Rule) bool {
	if rule.wildcard() {
		return matches(Wildcard, rule)
	}

	value, ok := msg.Properties.Get(rule.Key)
	if !ok {
		// A message without the property is not needed by an allow rule
		// and passes a deny rule.
		return rule.Action == Deny
	}
	return matches(value, rule)
}

func matches(value string, rule *Rule) bool {
	if rule.Action == Allow {
		return value == rule.Value
	}
	return value != rule.Value
}
