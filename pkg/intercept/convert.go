package intercept

import "reflect"

// as converts a value produced by the session (where literals are int,
// float64, []any and map[string]any) to T. Numeric conversions must be
// lossless; slices and maps are converted element by element.
func as[T any](v any) (T, bool) {
	if t, ok := v.(T); ok {
		return t, true
	}
	rv, ok := convertTo(v, reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	out, _ := rv.Interface().(T)
	return out, true
}

func convertTo(v any, t reflect.Type) (reflect.Value, bool) {
	if v == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), true
		}
		return reflect.Value{}, false
	}
	return convertValue(reflect.ValueOf(v), t)
}

func convertValue(rv reflect.Value, t reflect.Type) (reflect.Value, bool) {
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return convertTo(nil, t)
		}
		rv = rv.Elem()
	}
	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, true
	}

	switch {
	case isNumeric(rv.Kind()) && isNumeric(t.Kind()):
		if isUnsigned(t.Kind()) && isNegative(rv) {
			return reflect.Value{}, false
		}
		out := rv.Convert(t)
		if out.Convert(rv.Type()).Interface() != rv.Interface() {
			return reflect.Value{}, false
		}
		return out, true

	case rv.Kind() == reflect.Slice && t.Kind() == reflect.Slice:
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, ok := convertValue(rv.Index(i), t.Elem())
			if !ok {
				return reflect.Value{}, false
			}
			out.Index(i).Set(elem)
		}
		return out, true

	case rv.Kind() == reflect.Map && t.Kind() == reflect.Map:
		out := reflect.MakeMapWithSize(t, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, ok := convertValue(iter.Key(), t.Key())
			if !ok {
				return reflect.Value{}, false
			}
			e, ok := convertValue(iter.Value(), t.Elem())
			if !ok {
				return reflect.Value{}, false
			}
			out.SetMapIndex(k, e)
		}
		return out, true
	}
	return reflect.Value{}, false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNegative(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() < 0
	case reflect.Float32, reflect.Float64:
		return v.Float() < 0
	}
	return false
}
