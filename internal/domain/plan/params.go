package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParamKind discriminates the ParamValue union.
type ParamKind string

const (
	ParamLiteral       ParamKind = "literal"
	ParamPlaceholder   ParamKind = "placeholder"
	ParamStepReference ParamKind = "step_ref"
)

// ParamValue is one step parameter: a bound literal, an unbound placeholder
// awaiting user input, or a reference to a prior step's output bound at
// execution time. The tagged form makes "is this parameter resolved?" a
// total check instead of string sniffing.
type ParamValue struct {
	Kind ParamKind `json:"kind"`
	// Value holds the concrete value for literal parameters.
	Value string `json:"value,omitempty"`
	// Reason says why a placeholder is unbound (what input it awaits).
	Reason string `json:"reason,omitempty"`
	// StepOrder and Field name the prior step output a step_ref draws from.
	StepOrder int    `json:"step_order,omitempty"`
	Field     string `json:"field,omitempty"`
}

// Literal returns a parameter bound to a concrete value.
func Literal(v string) ParamValue {
	return ParamValue{Kind: ParamLiteral, Value: v}
}

// Placeholder returns an unbound parameter with the reason it awaits input.
func Placeholder(reason string) ParamValue {
	return ParamValue{Kind: ParamPlaceholder, Reason: reason}
}

// StepReference returns a parameter drawing its value from a prior step's
// output field at execution time.
func StepReference(stepOrder int, field string) ParamValue {
	return ParamValue{Kind: ParamStepReference, StepOrder: stepOrder, Field: field}
}

// Resolved reports whether the parameter is bound to a concrete value now.
func (p ParamValue) Resolved() bool {
	return p.Kind == ParamLiteral
}

// ResolvableAtExecution reports whether the parameter binds without further
// user input, from a prior step's recorded output.
func (p ParamValue) ResolvableAtExecution() bool {
	return p.Kind == ParamStepReference
}

// Validate checks the union invariants for the kind.
func (p ParamValue) Validate() error {
	switch p.Kind {
	case ParamLiteral:
		return nil
	case ParamPlaceholder:
		return nil
	case ParamStepReference:
		if p.StepOrder < 1 {
			return fmt.Errorf("step_ref step_order %d: %w", p.StepOrder, ErrBadStepReference)
		}
		return nil
	default:
		return fmt.Errorf("param kind %q: %w", p.Kind, ErrUnknownParamKind)
	}
}

// paramValueJSON is the explicit wire shape of ParamValue.
type paramValueJSON struct {
	Kind      ParamKind `json:"kind"`
	Value     string    `json:"value,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	StepOrder int       `json:"step_order,omitempty"`
	Field     string    `json:"field,omitempty"`
}

// UnmarshalJSON accepts the tagged object form and, for robustness against
// reasoning backends that emit plain scalars, decodes a bare JSON string,
// number, or bool as a literal.
func (p *ParamValue) UnmarshalJSON(data []byte) error {
	var obj paramValueJSON
	if err := json.Unmarshal(data, &obj); err == nil && obj.Kind != "" {
		*p = ParamValue{
			Kind:      obj.Kind,
			Value:     obj.Value,
			Reason:    obj.Reason,
			StepOrder: obj.StepOrder,
			Field:     obj.Field,
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Literal(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*p = Literal(strconv.FormatFloat(n, 'f', -1, 64))
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*p = Literal(strconv.FormatBool(b))
		return nil
	}
	return fmt.Errorf("parameter value %s: %w", string(data), ErrUnknownParamKind)
}
