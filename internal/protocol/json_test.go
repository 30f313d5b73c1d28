package protocol

import "testing"

func TestJSONValidatePassesDirectType(t *testing.T) {
	p := NewJSON[int]("count")
	if err := p.Validate(42); err != nil {
		t.Fatalf("expected valid int, got %v", err)
	}
}

func TestJSONValidateRoundTripsMismatchedNumericType(t *testing.T) {
	p := NewJSON[int]("count")
	// Values decoded from JSON commonly arrive as float64; the protocol
	// should still accept them if they round-trip cleanly into T.
	if err := p.Validate(float64(42)); err != nil {
		t.Fatalf("expected round-trippable float64 to validate as int, got %v", err)
	}
}

func TestJSONValidateRejectsIncompatibleShape(t *testing.T) {
	p := NewJSON[int]("count")
	if err := p.Validate("not a number"); err == nil {
		t.Fatalf("expected validation error for string value")
	}
}

func TestJSONSerializeDeserializeRoundTrip(t *testing.T) {
	p := NewJSON[map[string]int]("scores")
	data, err := p.Serialize(map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	value, err := p.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	m, ok := value.(map[string]int)
	if !ok || m["a"] != 1 {
		t.Fatalf("unexpected round-tripped value: %#v", value)
	}
}

func TestRefineRejectsFailingCheck(t *testing.T) {
	r := Refine[int]{
		Base:  NewJSON[int]("positive"),
		Check: func(v int) error {
			if v <= 0 {
				return errNotPositive
			}
			return nil
		},
	}
	if err := r.Validate(-1); err == nil {
		t.Fatalf("expected refinement to reject non-positive value")
	}
	if err := r.Validate(5); err != nil {
		t.Fatalf("expected refinement to accept positive value, got %v", err)
	}
}

var errNotPositive = &ValidationError{Message: "must be positive"}
