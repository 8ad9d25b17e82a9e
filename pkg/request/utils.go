package request

import (
	jsonlib "encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/keboola/go-utils/pkg/orderedmap"
	"github.com/spf13/cast"
)

// ToFormBody converts a JSON like map to form body map, any type is mapped to string.
func ToFormBody(in map[string]any) (out map[string]string) {
	out = make(map[string]string)
	for k, v := range in {
		switch typed := v.(type) {
		case []string:
			for i, s := range typed {
				out[fmt.Sprintf("%s[%d]", k, i)] = s
			}
		case []any:
			for i, s := range typed {
				out[fmt.Sprintf("%s[%d]", k, i)] = castToString(s)
			}
		case map[string]string:
			for i, s := range typed {
				out[fmt.Sprintf("%s[%s]", k, i)] = s
			}
		default:
			out[k] = castToString(v)
		}
	}
	return out
}

// StructToMap converts a struct to values map.
// Only defined allowedFields are converted.
// If allowedFields = nil, then all fields are exported.
//
// Field name is read from `writeas` tag or from "json" tag as fallback.
// Field with tag `readonly:"true"` is ignored.
// Field with tag `writeoptional` is exported only if value is not empty.
func StructToMap(in any, allowedFields []string) (out map[string]any) {
	out = make(map[string]any)
	structToMap(reflect.ValueOf(in), out, allowedFields)
	return out
}

func structToMap(in reflect.Value, out map[string]any, allowedFields []string) {
	for in.Kind() == reflect.Ptr || in.Kind() == reflect.Interface {
		in = in.Elem()
	}
	t := in.Type()

	allowed := make(map[string]bool)
	for _, field := range allowedFields {
		allowed[field] = true
	}

	for i := range t.NumField() {
		field := t.Field(i)
		fieldValue := in.Field(i)

		if field.Anonymous {
			structToMap(fieldValue, out, allowedFields)
			continue
		}

		if field.Tag.Get("readonly") == "true" {
			continue
		}

		if field.Tag.Get("writeoptional") == "true" && fieldValue.IsZero() {
			continue
		}

		var fieldName string
		if v := field.Tag.Get("writeas"); v != "" {
			fieldName = v
		} else if v := strings.Split(field.Tag.Get("json"), ",")[0]; v != "" {
			fieldName = v
		} else {
			panic(fmt.Errorf(`field "%s" of %s has no json name`, field.Name, t.String()))
		}

		if fieldName == "-" {
			continue
		}

		if len(allowedFields) > 0 && !allowed[fieldName] {
			continue
		}

		out[fieldName] = fieldValue.Interface()
	}
}

// canonicalBodies returns bodies sorted by key, nested maps are converted to sorted ordered maps.
func canonicalBodies(bodies map[string]any) []KeyValue {
	ordered := toOrderedMap(bodies)
	out := make([]KeyValue, 0, len(bodies))
	for _, key := range ordered.Keys() {
		value, _ := ordered.Get(key)
		out = append(out, KeyValue{Key: key, Value: value})
	}
	return out
}

func canonicalQuery(bodies map[string]any) string {
	parts := make([]string, 0, len(bodies))
	for _, kv := range canonicalBodies(bodies) {
		parts = append(parts, url.QueryEscape(kv.Key)+"="+url.QueryEscape(castToString(kv.Value)))
	}
	return strings.Join(parts, "&")
}

func toOrderedMap(in map[string]any) *orderedmap.OrderedMap {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]orderedmap.Pair, 0, len(keys))
	for _, k := range keys {
		value := in[k]
		if nested, ok := value.(map[string]any); ok {
			value = toOrderedMap(nested)
		}
		pairs = append(pairs, orderedmap.Pair{Key: k, Value: value})
	}
	return orderedmap.FromPairs(pairs)
}

func castToString(v any) string {
	// Ordered map
	if orderedMap, ok := v.(*orderedmap.OrderedMap); ok {
		// Standard json encoding library is used.
		// JsonIter lib returns non-compact JSON,
		// if custom OrderedMap.MarshalJSON method is used.
		if v, err := jsonlib.Marshal(orderedMap); err != nil {
			panic(fmt.Errorf(`cannot cast %T to string %w`, v, err))
		} else {
			return string(v)
		}
	}

	// Scalar types
	if str, err := cast.ToStringE(v); err == nil {
		return str
	}

	// Slices, maps, structs
	if bytes, err := jsonlib.Marshal(v); err != nil {
		panic(fmt.Errorf(`cannot cast %T to string %w`, v, err))
	} else {
		return string(bytes)
	}
}
