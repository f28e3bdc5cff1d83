package quota

import (
	"reflect"
	"strconv"
)

// Metadata is free-form, flat information attached to plans and keys.
// Values must be scalars or lists of scalars.
type Metadata map[string]any

// checkMetadata validates incoming metadata and returns a cleaned copy
// without nil or empty-string values.
func checkMetadata(md Metadata) (Metadata, error) {
	if len(md) == 0 {
		return nil, nil
	}
	out := make(Metadata, len(md))
	for field, value := range md {
		if isObject(value) {
			return nil, errMetadataInvalid(field)
		}
		if isEmpty(value) {
			continue
		}
		if items, ok := asSlice(value); ok {
			for i, item := range items {
				if isObject(item) {
					return nil, errMetadataInvalid(field + "." + strconv.Itoa(i))
				}
			}
		}
		out[field] = value
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// mergeMetadata applies patch onto base. A nil or empty-string value in patch
// removes the field. The result is nil when no fields remain.
func mergeMetadata(base, patch Metadata) (Metadata, error) {
	for field, value := range patch {
		if isObject(value) {
			return nil, errMetadataInvalid(field)
		}
	}
	out := make(Metadata, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if isEmpty(v) {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return checkMetadata(out)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func isObject(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
		return true
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
