package message

import (
	"fmt"

	"ionbridge/pkg/apperror"
)

// PropertyType tags the Go type stored in a TypedProperty.
type PropertyType string

const (
	PropString   PropertyType = "string"
	PropInt      PropertyType = "int"
	PropFloat    PropertyType = "float"
	PropBool     PropertyType = "bool"
	PropDateTime PropertyType = "datetime"
	PropBytes    PropertyType = "bytes"
	PropList     PropertyType = "list"
	PropDict     PropertyType = "dict"
)

// TypedProperty is a (value, type, optional max size) record. Size
// constraints are enforced once, at construction.
type TypedProperty struct {
	Value   any
	Type    PropertyType
	MaxSize int // 0 means unconstrained
}

// NewTypedProperty validates value against maxSize (when non-zero) and
// returns a ValidationFailed *apperror.Error on violation.
func NewTypedProperty(value any, typ PropertyType, maxSize int) (TypedProperty, error) {
	p := TypedProperty{Value: value, Type: typ, MaxSize: maxSize}
	if maxSize <= 0 {
		return p, nil
	}
	size, ok := sizeOf(value, typ)
	if ok && size > maxSize {
		return TypedProperty{}, apperror.New(apperror.ValidationFailed,
			fmt.Sprintf("typed property exceeds max size: %d > %d", size, maxSize))
	}
	return p, nil
}

func sizeOf(value any, typ PropertyType) (int, bool) {
	switch typ {
	case PropString:
		s, ok := value.(string)
		return len(s), ok
	case PropBytes:
		b, ok := value.([]byte)
		return len(b), ok
	case PropList:
		l, ok := value.([]any)
		return len(l), ok
	case PropDict:
		m, ok := value.(map[string]any)
		return len(m), ok
	default:
		return 0, false
	}
}

// Payload is the immutable content half of a Message. Raw is
// authoritative; Properties are a derived, typed side-channel never
// consulted to reconstruct Raw.
type Payload struct {
	Raw         []byte
	ContentType string
	Encoding    string
	Properties  map[string]TypedProperty
}

// clone deep-copies Raw, Properties so a derived Payload never aliases
// its parent's backing arrays.
func (p Payload) clone() Payload {
	c := p
	if p.Raw != nil {
		c.Raw = append([]byte(nil), p.Raw...)
	}
	if p.Properties != nil {
		c.Properties = make(map[string]TypedProperty, len(p.Properties))
		for k, v := range p.Properties {
			c.Properties[k] = v
		}
	}
	return c
}

// WithProperty returns a new Payload with key set to the given typed
// property; the receiver is left untouched.
func (p Payload) WithProperty(key string, prop TypedProperty) Payload {
	c := p.clone()
	if c.Properties == nil {
		c.Properties = make(map[string]TypedProperty, 1)
	}
	c.Properties[key] = prop
	return c
}

// Property looks up a typed property by key.
func (p Payload) Property(key string) (TypedProperty, bool) {
	v, ok := p.Properties[key]
	return v, ok
}
