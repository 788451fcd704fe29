package session

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Repr renders a value the way the session echoes results: strings quoted,
// containers expanded, map keys sorted.
func Repr(v any) string {
	var b strings.Builder
	writeRepr(&b, reflect.ValueOf(v), 0)
	return b.String()
}

const maxReprDepth = 8

func writeRepr(b *strings.Builder, v reflect.Value, depth int) {
	if !v.IsValid() {
		b.WriteString("nil")
		return
	}
	if depth > maxReprDepth {
		b.WriteString("...")
		return
	}

	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case error:
			if v.Kind() != reflect.Pointer || !v.IsNil() {
				fmt.Fprintf(b, "error(%s)", strconv.Quote(x.Error()))
				return
			}
		case fmt.Stringer:
			if v.Kind() != reflect.Struct && (v.Kind() != reflect.Pointer || !v.IsNil()) {
				b.WriteString(x.String())
				return
			}
		}
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			b.WriteString("nil")
			return
		}
		writeRepr(b, v.Elem(), depth+1)
	case reflect.String:
		b.WriteString(strconv.Quote(v.String()))
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			b.WriteString("[]")
			return
		}
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, v.Index(i), depth+1)
		}
		b.WriteByte(']')
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
		})
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, k, depth+1)
			b.WriteString(": ")
			writeRepr(b, v.MapIndex(k), depth+1)
		}
		b.WriteByte('}')
	case reflect.Func:
		b.WriteString("<func>")
	default:
		if v.CanInterface() {
			fmt.Fprintf(b, "%v", v.Interface())
			return
		}
		b.WriteString(v.String())
	}
}
