package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// ErrEmptyKey is returned when neither an explicit key nor a function name is available.
var ErrEmptyKey = errors.New("cache: cannot build an empty key")

// Param is one bound argument of a decorated call.
type Param struct {
	Name  string
	Value any
}

// KeyInput carries everything a KeyBuilder may use.
type KeyInput struct {
	// Name identifies the wrapped function.
	Name string
	// Key is the explicit key. When set it replaces the derived signature.
	Key string
	// Namespace prefixes the key as "namespace:".
	Namespace string
	// Params are the call arguments with dependencies already filtered out.
	Params []Param
	// Args is the raw argument value as passed to the decorated function.
	Args any
	// HashArgs replaces the readable argument list with its xxhash digest.
	HashArgs bool
}

// KeyBuilder derives the final cache key of a call.
type KeyBuilder func(in KeyInput) (string, error)

// JoinKey composes "namespace:key", or key alone when namespace is empty.
func JoinKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}

// keyEscaper percent-encodes the separators of the derived signature so that
// values containing "," or "=" cannot mimic another parameter list.
var keyEscaper = strings.NewReplacer("%", "%25", ",", "%2C", "=", "%3D")

// BuildKey is the default KeyBuilder. The derived signature is
// "name:p1=v1,p2=v2" with parameters ordered by name. Names and values are
// escaped with keyEscaper, so plain scalars appear unchanged.
func BuildKey(in KeyInput) (string, error) {
	if in.Key != "" {
		return JoinKey(in.Namespace, in.Key), nil
	}
	if in.Name == "" {
		return "", ErrEmptyKey
	}
	sig := in.Name
	if len(in.Params) > 0 {
		params := slices.Clone(in.Params)
		slices.SortStableFunc(params, func(a, b Param) int { return strings.Compare(a.Name, b.Name) })
		parts := make([]string, len(params))
		for i, p := range params {
			parts[i] = keyEscaper.Replace(p.Name) + "=" + keyEscaper.Replace(FormatValue(p.Value))
		}
		args := strings.Join(parts, ",")
		if in.HashArgs {
			args = strconv.FormatUint(xxhash.Sum64String(args), 16)
		}
		sig += ":" + args
	}
	return JoinKey(in.Namespace, sig), nil
}

var (
	contextType        = reflect.TypeOf((*context.Context)(nil)).Elem()
	responseWriterType = reflect.TypeOf((*http.ResponseWriter)(nil)).Elem()
	requestType        = reflect.TypeOf((*http.Request)(nil))
)

// IsDependency reports whether values of t are injected collaborators rather
// than data, and so never take part in a key.
func IsDependency(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	if t == requestType || t == requestType.Elem() {
		return true
	}
	return t.Implements(contextType) || t.Implements(responseWriterType)
}

// BindParams turns the argument value of a decorated call into named
// parameters. Structs bind their exported fields, named by the `cache` tag,
// then the `json` tag, then the field name; `cache:"-"` skips a field. Maps
// with string keys bind their entries. Any other value binds as "arg".
// Dependencies, nil values and names listed in exclude are dropped.
func BindParams(args any, exclude ...string) (params []Param, err error) {
	defer func() {
		if r := recover(); r != nil {
			params, err = nil, errors.Newf("cache: cannot bind arguments of type %T: %v", args, r)
		}
	}()

	t := reflect.TypeOf(args)
	if t == nil || IsDependency(t) {
		return nil, nil
	}
	v := reflect.ValueOf(args)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	switch {
	case v.Kind() == reflect.Struct && v.Type() != reflect.TypeOf(time.Time{}):
		st := v.Type()
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if !f.IsExported() {
				continue
			}
			name, ok := paramName(f)
			if !ok || IsDependency(f.Type) {
				continue
			}
			params = append(params, Param{Name: name, Value: v.Field(i).Interface()})
		}
	case v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String:
		iter := v.MapRange()
		for iter.Next() {
			params = append(params, Param{Name: iter.Key().String(), Value: iter.Value().Interface()})
		}
	default:
		params = []Param{{Name: "arg", Value: v.Interface()}}
	}

	return FilterParams(params, exclude...), nil
}

// FilterParams drops excluded names, dependencies and nil values, and orders the
// remainder by name.
func FilterParams(params []Param, exclude ...string) []Param {
	out := make([]Param, 0, len(params))
	for _, p := range params {
		if slices.Contains(exclude, p.Name) || isNil(p.Value) || IsDependency(reflect.TypeOf(p.Value)) {
			continue
		}
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b Param) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func paramName(f reflect.StructField) (string, bool) {
	if tag, ok := f.Tag.Lookup("cache"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return "", false
		}
		if name != "" {
			return name, true
		}
	}
	if tag, ok := f.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name, true
		}
	}
	return f.Name, true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// FormatValue renders a parameter value for a key. Scalars print plainly,
// composites as JSON with sorted map keys, and anything JSON cannot encode
// falls back to its %v form.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x != nil {
			return x.UTC().Format(time.RFC3339Nano)
		}
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	}

	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}

// FuncName returns the package-qualified name of fn, e.g. "handlers.GetUser".
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}
