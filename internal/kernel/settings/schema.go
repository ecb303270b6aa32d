package settings

import (
	"fmt"
	"reflect"
	"strings"
)

// fieldKey returns the settings key for a struct field: its `settings`
// tag if present, otherwise its lowercased name.
func fieldKey(f reflect.StructField) string {
	if tag := f.Tag.Get("settings"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

// defaultsFromSchema builds a plain map from a zero-argument schema
// instance by walking its exported fields with reflection. Nested
// structs become nested maps, which is how the env-prefix walk in
// env.go finds the keys schema declares as nested.
func defaultsFromSchema(schema interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{}
	}
	v := reflect.ValueOf(schema)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v = reflect.New(v.Type().Elem()).Elem()
			break
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return map[string]interface{}{}
	}
	return structToMap(v)
}

func structToMap(v reflect.Value) map[string]interface{} {
	out := make(map[string]interface{})
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			out[fieldKey(f)] = structToMap(fv)
			continue
		}
		out[fieldKey(f)] = fv.Interface()
	}
	return out
}

// populateSchema builds a new instance of the same type as sample,
// populated from merged, and reports any field it could not populate
// as a validation error.
func populateSchema(sample interface{}, merged map[string]interface{}) (interface{}, []string) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	out := reflect.New(t).Elem()
	var problems []string
	populateStruct(out, merged, &problems)
	return out.Interface(), problems
}

func populateStruct(v reflect.Value, merged map[string]interface{}, problems *[]string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		key := fieldKey(f)
		raw, ok := merged[key]
		if !ok {
			continue
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			if nested, ok := raw.(map[string]interface{}); ok {
				populateStruct(fv, nested, problems)
			}
			continue
		}
		if !setField(fv, raw) {
			*problems = append(*problems, fmt.Sprintf("field %q: cannot assign value %v of type %T", key, raw, raw))
		}
	}
}

func setField(fv reflect.Value, raw interface{}) bool {
	rv := reflect.ValueOf(raw)
	if !rv.IsValid() {
		return true
	}
	if rv.Type().AssignableTo(fv.Type()) {
		fv.Set(rv)
		return true
	}
	if rv.Type().ConvertibleTo(fv.Type()) {
		switch fv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Float32, reflect.Float64, reflect.String, reflect.Bool:
			fv.Set(rv.Convert(fv.Type()))
			return true
		}
	}
	return false
}
