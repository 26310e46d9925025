package escore

import "reflect"

// TypeName returns the unqualified, stable name of v's concrete type. It is
// the type tag used throughout the core — rehydrator tables, command
// processor registration, audit log keys — wherever the spec calls for a
// "stable type tag" instead of reflection-built dispatch (see the redesign
// guidance on runtime type-keyed dispatch).
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
