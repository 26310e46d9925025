package escore

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
)

// Serializer is the opaque text codec contract for messages and events. It
// does not mandate a particular wire syntax, only round-trip fidelity: the
// written form must carry enough runtime type identity that Deserialize can
// reconstruct the original concrete message type, not merely its fields.
type Serializer interface {
	// Serialize writes a self-describing text form of object to w.
	Serialize(w io.Writer, object any) error

	// Deserialize reads a self-describing text form from r and returns the
	// reconstructed object, or a SerializationError if the form is invalid
	// or names an unregistered type.
	Deserialize(r io.Reader) (any, error)
}

// JSONSerializer is the default Serializer: a JSON envelope of {type, data}
// plus a type registry the inverse operation consults to know which
// concrete Go type "data" unmarshals into. Grounded the same way
// aneshas-eventstore's JsonEncoder resolves concrete types — by type name,
// not by a wire-level discriminator the caller has to maintain by hand.
type JSONSerializer struct {
	types map[string]reflect.Type
}

// NewJSONSerializer constructs a serializer that can round-trip each of the
// given sample values by their concrete type.
func NewJSONSerializer(samples ...any) *JSONSerializer {
	s := &JSONSerializer{types: make(map[string]reflect.Type)}
	for _, sample := range samples {
		s.Register(sample)
	}
	return s
}

// Register adds sample's concrete type to the registry under its type
// name, so Deserialize can later reconstruct values of that type.
func (s *JSONSerializer) Register(sample any) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.types[t.Name()] = t
}

type jsonEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Serialize writes object as a {type, data} JSON envelope.
func (s *JSONSerializer) Serialize(w io.Writer, object any) error {
	data, err := json.Marshal(object)
	if err != nil {
		return WrapSerializationError(err)
	}
	env := jsonEnvelope{Type: TypeName(object), Data: data}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		return WrapSerializationError(err)
	}
	return nil
}

// Deserialize reads a {type, data} JSON envelope and reconstructs the
// original concrete type from the registry.
func (s *JSONSerializer) Deserialize(r io.Reader) (any, error) {
	var env jsonEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, WrapSerializationError(err)
	}

	t, ok := s.types[env.Type]
	if !ok {
		return nil, WrapSerializationError(fmt.Errorf("unregistered message type %q", env.Type))
	}

	v := reflect.New(t)
	if err := json.Unmarshal(env.Data, v.Interface()); err != nil {
		return nil, WrapSerializationError(err)
	}
	return v.Elem().Interface(), nil
}
