package routing

import (
	"sort"

	"ionbridge/pkg/apperror"
)

// Action is the outcome a matching rule produces.
type Action string

const (
	ActionSend      Action = "send"
	ActionTransform Action = "transform"
	ActionDelete    Action = "delete"
)

// Rule is one content-based routing rule. Condition is parsed once (on
// RuleSet construction) and cached for reuse across every evaluated
// message.
type Rule struct {
	Name        string
	Priority    int
	Condition   string
	Action      Action
	Targets     []string
	TransformID string
	Enabled     bool

	compiled      *Condition
	insertOrdinal int
}

// Outcome is the result of evaluating a RuleSet against one message.
type Outcome struct {
	Rule        string
	Action      Action
	Targets     []string
	TransformID string
	// Matched is false only when no rule matched and no default fan-out
	// applies; the caller should record NoMatch.
	Matched bool
}

// RuleSet holds a compiled, priority-ordered list of rules plus an
// optional default fan-out used when no rule matches.
type RuleSet struct {
	rules          []Rule
	defaultTargets []string
}

// NewRuleSet compiles rules' conditions and sorts them by priority
// (ascending; lower number evaluates first), ties broken by original
// list order. defaultTargets backs the synthetic `default` rule used
// when nothing matches.
func NewRuleSet(rules []Rule, defaultTargets []string) (*RuleSet, error) {
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		r.insertOrdinal = i
		if r.Condition != "" {
			cond, err := Parse(r.Condition)
			if err != nil {
				return nil, apperror.Wrap(apperror.ConfigurationError, err, "invalid condition in rule "+r.Name)
			}
			r.compiled = cond
		}
		compiled[i] = r
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority < compiled[j].Priority
		}
		return compiled[i].insertOrdinal < compiled[j].insertOrdinal
	})
	return &RuleSet{rules: compiled, defaultTargets: defaultTargets}, nil
}

// Evaluate runs rules in priority order against r, returning the first
// matching enabled rule's outcome. An empty/absent condition matches
// unconditionally. Falls back to the synthetic `default` rule
// (action send, defaultTargets) when nothing matches and defaultTargets
// is non-empty.
func (rs *RuleSet) Evaluate(r FieldResolver) Outcome {
	for _, rule := range rs.rules {
		if !rule.Enabled {
			continue
		}
		if rule.compiled != nil && !rule.compiled.Eval(r) {
			continue
		}
		return Outcome{
			Rule:        rule.Name,
			Action:      rule.Action,
			Targets:     rule.Targets,
			TransformID: rule.TransformID,
			Matched:     true,
		}
	}
	if len(rs.defaultTargets) > 0 {
		return Outcome{Rule: "default", Action: ActionSend, Targets: rs.defaultTargets, Matched: true}
	}
	return Outcome{Matched: false}
}
