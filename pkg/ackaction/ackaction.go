// Package ackaction implements the ReplyCodeAction state machine that
// maps an outbound HL7 ACK's MSA-1 code onto a processing outcome.
package ackaction

import (
	"strings"

	"ionbridge/pkg/apperror"
)

// Action is the outcome chosen for a given ACK code.
type Action string

const (
	// Success records the send and completes the WAL entry.
	Success Action = "S"
	// Fail records a non-retryable failure and marks the WAL entry
	// failed.
	Fail Action = "F"
	// Retry increments the WAL retry counter and re-queues after
	// RetryDelay, subject to MaxRetries.
	Retry Action = "R"
	// Warn records a warning but is otherwise treated as Success.
	Warn Action = "W"
)

// Rule is one `pattern=action` pair from a ReplyCodeActions setting.
type Rule struct {
	Pattern string
	Action  Action
}

// Table is a compiled, ordered ReplyCodeActions list.
type Table struct {
	rules []Rule
}

// Parse compiles a comma-separated `pattern=action` list (e.g.
// "AA=S,?E=R,?R=F,*=F"). An empty spec compiles to the implicit
// `*=S` default.
func Parse(spec string) (*Table, error) {
	if strings.TrimSpace(spec) == "" {
		return &Table{rules: []Rule{{Pattern: "*", Action: Success}}}, nil
	}

	var rules []Rule
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return nil, apperror.New(apperror.ConfigurationError, "malformed reply code action entry: "+part)
		}
		pattern := strings.TrimSpace(part[:eq])
		action := Action(strings.ToUpper(strings.TrimSpace(part[eq+1:])))
		switch action {
		case Success, Fail, Retry, Warn:
		default:
			return nil, apperror.New(apperror.ConfigurationError, "unknown reply code action: "+string(action))
		}
		rules = append(rules, Rule{Pattern: pattern, Action: action})
	}
	if len(rules) == 0 {
		rules = []Rule{{Pattern: "*", Action: Success}}
	}
	return &Table{rules: rules}, nil
}

// Evaluate returns the action for the first pattern in the table that
// matches code, in list order. `*` matches everything; `?E`/`?R` match
// any *E/*R wildcard class; anything else is an exact match.
func (t *Table) Evaluate(code string) Action {
	code = strings.ToUpper(code)
	for _, r := range t.rules {
		if matches(r.Pattern, code) {
			return r.Action
		}
	}
	return Success
}

func matches(pattern, code string) bool {
	switch pattern {
	case "*":
		return true
	case "?E":
		return strings.HasSuffix(code, "E") && len(code) == 2
	case "?R":
		return strings.HasSuffix(code, "R") && len(code) == 2
	default:
		return strings.EqualFold(pattern, code)
	}
}
