package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// fieldType is the primitive JSON type a metadata field must have.
type fieldType string

const (
	typeAny    fieldType = "any"
	typeString fieldType = "string"
	typeNumber fieldType = "number"
	typeBool   fieldType = "bool"
	typeArray  fieldType = "array"
	typeObject fieldType = "object"
)

type fieldSpec struct {
	path []string
	typ  fieldType
}

func (f fieldSpec) String() string {
	return strings.Join(f.path, ".")
}

func parseFieldSpec(s string) (fieldSpec, error) {
	key, typ, hasType := strings.Cut(strings.TrimSpace(s), ":")
	if key == "" {
		return fieldSpec{}, fmt.Errorf("%w: empty metadata field in %q", ErrInvalidConfig, s)
	}
	spec := fieldSpec{path: strings.Split(key, "."), typ: typeAny}
	for _, p := range spec.path {
		if p == "" {
			return fieldSpec{}, fmt.Errorf("%w: malformed metadata field %q", ErrInvalidConfig, s)
		}
	}
	if hasType {
		switch t := fieldType(strings.ToLower(strings.TrimSpace(typ))); t {
		case typeAny, typeString, typeNumber, typeBool, typeArray, typeObject:
			spec.typ = t
		case "boolean":
			spec.typ = typeBool
		default:
			return fieldSpec{}, fmt.Errorf("%w: unknown type %q for metadata field %q", ErrInvalidConfig, typ, key)
		}
	}
	return spec, nil
}

// parseMetadata decodes a metadata document. The top level must be an object.
func parseMetadata(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level is %s, want object", typeOf(doc))
	}
	return obj, nil
}

func lookup(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func typeOf(v any) fieldType {
	switch v.(type) {
	case string:
		return typeString
	case json.Number, float64:
		return typeNumber
	case bool:
		return typeBool
	case []any:
		return typeArray
	case map[string]any:
		return typeObject
	case nil:
		return "null"
	}
	return typeAny
}

// checkFields returns one problem per required field that is absent or has
// the wrong type. Unknown fields are ignored.
func checkFields(doc map[string]any, specs []fieldSpec) []string {
	var problems []string
	for _, spec := range specs {
		v, ok := lookup(doc, spec.path)
		if !ok {
			problems = append(problems, fmt.Sprintf("missing field %q", spec))
			continue
		}
		if spec.typ == typeAny {
			continue
		}
		if got := typeOf(v); got != spec.typ {
			problems = append(problems, fmt.Sprintf("field %q is %s, want %s", spec, got, spec.typ))
		}
	}
	return problems
}
