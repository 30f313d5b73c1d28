// Package protocol provides reference Protocol implementations for
// internal/flow.Provider.ProtocolFor -- value validation and the
// (de)serialization the persistent cache uses to store a Result.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports that a value failed a Protocol's validation,
// generalized from the plain field/message/value validation struct the
// ambient HTTP stack uses elsewhere for request validation.
type ValidationError struct {
	EntityName string
	Message    string
	Value      any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("entity %q: %s (value: %#v)", e.EntityName, e.Message, e.Value)
}

// JSON is a Protocol that validates a value by asserting it is a T (or, for
// values produced by decoding JSON into `any`, round-tripping them through
// encoding/json into T), and serializes via json.Marshal/json.Unmarshal.
//
// This is intentionally the simplest Protocol that can exercise the
// validate-then-persist contract in internal/flow; providers that need
// structural validation beyond a type check compose a JSON[T] with Refine.
type JSON[T any] struct {
	EntityName string
}

// NewJSON builds a JSON protocol for the given entity name, used only to
// annotate validation errors.
func NewJSON[T any](entityName string) JSON[T] {
	return JSON[T]{EntityName: entityName}
}

// Validate reports an error unless value is already a T, or can be
// round-tripped into one via JSON re-encoding (the shape produced when a
// cached value was deserialized into `any` rather than T directly).
func (p JSON[T]) Validate(value any) error {
	if _, ok := value.(T); ok {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return &ValidationError{EntityName: p.EntityName, Message: "value is not JSON-encodable: " + err.Error(), Value: value}
	}
	var typed T
	if err := json.Unmarshal(data, &typed); err != nil {
		return &ValidationError{EntityName: p.EntityName, Message: "value does not match expected shape: " + err.Error(), Value: value}
	}
	return nil
}

// Serialize marshals value as JSON.
func (p JSON[T]) Serialize(value any) ([]byte, error) {
	return json.Marshal(value)
}

// Deserialize unmarshals data into a new T and returns it as `any`.
func (p JSON[T]) Deserialize(data []byte) (any, error) {
	var typed T
	if err := json.Unmarshal(data, &typed); err != nil {
		return nil, fmt.Errorf("protocol: deserialize %T: %w", typed, err)
	}
	return typed, nil
}

// Refine wraps a JSON[T] protocol with an additional structural check run
// after the type check passes.
type Refine[T any] struct {
	Base  JSON[T]
	Check func(T) error
}

// Validate runs the base JSON protocol's check, then the refinement.
func (r Refine[T]) Validate(value any) error {
	if err := r.Base.Validate(value); err != nil {
		return err
	}
	typed, ok := value.(T)
	if !ok {
		data, err := json.Marshal(value)
		if err != nil {
			return &ValidationError{EntityName: r.Base.EntityName, Message: "value is not JSON-encodable", Value: value}
		}
		if err := json.Unmarshal(data, &typed); err != nil {
			return &ValidationError{EntityName: r.Base.EntityName, Message: "value does not match expected shape", Value: value}
		}
	}
	if err := r.Check(typed); err != nil {
		return &ValidationError{EntityName: r.Base.EntityName, Message: err.Error(), Value: value}
	}
	return nil
}

// Serialize delegates to the base protocol.
func (r Refine[T]) Serialize(value any) ([]byte, error) { return r.Base.Serialize(value) }

// Deserialize delegates to the base protocol.
func (r Refine[T]) Deserialize(data []byte) (any, error) { return r.Base.Deserialize(data) }
