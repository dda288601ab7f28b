package collect

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var keyPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)`)

// FormatName interpolates case data into an expanded task name.
//
//	%s %v   value
//	%d      number
//	%i      integer (truncated)
//	%f      float
//	%j %o   JSON
//	%#      case index
//	%$      case index + 1
//	%%      literal percent
//
// Verbs without a matching argument are kept as is. When the case is a
// single map or struct, $key and $key.sub are replaced with the
// corresponding field.
func FormatName(template string, index int, args ...any) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '%' || i+1 == len(template) {
			b.WriteByte(c)
			continue
		}
		verb := template[i+1]
		switch verb {
		case '%':
			b.WriteByte('%')
		case '#':
			b.WriteString(strconv.Itoa(index))
		case '$':
			b.WriteString(strconv.Itoa(index + 1))
		case 's', 'v', 'd', 'i', 'f', 'j', 'o':
			if next >= len(args) {
				b.WriteByte('%')
				b.WriteByte(verb)
				break
			}
			b.WriteString(formatArg(verb, args[next]))
			next++
		default:
			b.WriteByte(c)
			continue
		}
		i++
	}

	name := b.String()
	if len(args) == 1 && strings.Contains(name, "$") && isRecord(args[0]) {
		name = interpolateKeys(name, args[0])
	}
	return name
}

func formatArg(verb byte, v any) string {
	switch verb {
	case 'd':
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return "NaN"
	case 'i':
		if f, ok := toFloat(v); ok {
			return strconv.FormatInt(int64(math.Trunc(f)), 10)
		}
		return "NaN"
	case 'f':
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "NaN"
	case 'j', 'o':
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(rv.String()), 64)
		return f, err == nil
	}
	return 0, false
}

func isRecord(v any) bool {
	rv := reflect.Indirect(reflect.ValueOf(v))
	return rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct
}

// interpolateKeys resolves $paths against the JSON form of v, so struct
// fields are addressed by their JSON names.
func interpolateKeys(name string, v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return name
	}
	return keyPattern.ReplaceAllStringFunc(name, func(m string) string {
		res := gjson.GetBytes(data, m[1:])
		if !res.Exists() {
			return m
		}
		return res.String()
	})
}

// spread returns the elements of a slice or array case, used as
// positional arguments by Each. Other cases are a single argument.
func spread(item any) []any {
	rv := reflect.ValueOf(item)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{item}
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{item}
	}
	args := make([]any, rv.Len())
	for i := range args {
		args[i] = rv.Index(i).Interface()
	}
	return args
}
