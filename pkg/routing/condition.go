// Package routing implements the content-based routing-rule engine:
// condition parsing against the HL7 Parsed View and rule-set evaluation.
package routing

import (
	"strings"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/hl7"
)

// FieldResolver resolves `{SEG-F...}` field references for condition
// evaluation. *hl7.ParsedView satisfies this via GetField.
type FieldResolver interface {
	GetField(path string, def string) string
}

// nodeKind tags the AST node variants produced by the parser.
type nodeKind int

const (
	nodeOr nodeKind = iota
	nodeAnd
	nodeNot
	nodeCompare
	nodeFunc
	nodeIn
)

type node struct {
	kind nodeKind

	// boolean combinators
	children []*node

	// comparison
	left  atom
	op    string
	right atom

	// function call: Contains/StartsWith/EndsWith(left, right)
	fn string

	// membership: left IN (options...)
	options []atom
}

// atom is either a field reference (resolved at evaluation time), a
// quoted string literal, or a bare numeric literal.
type atom struct {
	isField bool
	literal string
}

func (a atom) resolve(r FieldResolver) string {
	if a.isField {
		return r.GetField(a.literal, "")
	}
	return a.literal
}

// Condition is a parsed, cacheable condition expression.
type Condition struct {
	root *node
	src  string
}

// Parse compiles a condition expression. The result is safe to reuse
// across many Eval calls (cached per Rule).
func Parse(expr string) (*Condition, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, apperror.New(apperror.ConfigurationError, "unexpected trailing tokens in condition: "+expr)
	}
	return &Condition{root: n, src: expr}, nil
}

// Eval evaluates the condition against a field resolver.
func (c *Condition) Eval(r FieldResolver) bool {
	return evalNode(c.root, r)
}

func evalNode(n *node, r FieldResolver) bool {
	switch n.kind {
	case nodeOr:
		for _, c := range n.children {
			if evalNode(c, r) {
				return true
			}
		}
		return false
	case nodeAnd:
		for _, c := range n.children {
			if !evalNode(c, r) {
				return false
			}
		}
		return true
	case nodeNot:
		return !evalNode(n.children[0], r)
	case nodeCompare:
		return evalCompare(n, r)
	case nodeFunc:
		return evalFunc(n, r)
	case nodeIn:
		val := n.left.resolve(r)
		for _, o := range n.options {
			if val == o.resolve(r) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// evalCompare compares the two operands as written, string-ordinal —
// condition authors wanting numeric ordering (e.g. `{OBX-5} > 9` against
// a two-digit value) use Contains/StartsWith or a zero-padded field
// instead; this engine never coerces an HL7 field to a number.
func evalCompare(n *node, r FieldResolver) bool {
	lhs := n.left.resolve(r)
	rhs := n.right.resolve(r)
	return compareOrdered(lhs, rhs, n.op)
}

func compareOrdered(lhs, rhs string, op string) bool {
	switch op {
	case "=":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "<":
		return lhs < rhs
	case "<=":
		return lhs <= rhs
	case ">":
		return lhs > rhs
	case ">=":
		return lhs >= rhs
	default:
		return false
	}
}

func evalFunc(n *node, r FieldResolver) bool {
	lhs := n.left.resolve(r)
	rhs := n.right.resolve(r)
	switch n.fn {
	case "Contains":
		return strings.Contains(lhs, rhs)
	case "StartsWith":
		return strings.HasPrefix(lhs, rhs)
	case "EndsWith":
		return strings.HasSuffix(lhs, rhs)
	default:
		return false
	}
}

// *hl7.ParsedView satisfies FieldResolver; this assertion checks it at
// compile time without the concrete type appearing in exported signatures.
var _ FieldResolver = (*hl7.ParsedView)(nil)
