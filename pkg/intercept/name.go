package intercept

import (
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

var closureSegment = regexp.MustCompile(`^(func)?\d+$`)

// funcName derives a display name from a function value. Named functions and
// methods yield their bare name; closures yield "outer.funcN", which is not an
// identifier and so never gets an alias in the session.
func funcName(f any) string {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return ""
	}
	return shortName(rf.Name())
}

func shortName(full string) string {
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	full = strings.TrimSuffix(full, "-fm")
	if i := strings.Index(full, "["); i >= 0 {
		if j := strings.LastIndex(full, "]"); j > i {
			full = full[:i] + full[j+1:]
		}
	}

	parts := strings.Split(full, ".")
	if len(parts) > 1 {
		// drop the package
		parts = parts[1:]
	}
	last := parts[len(parts)-1]
	if closureSegment.MatchString(last) {
		// walk out of nested closures to the enclosing named function
		i := len(parts) - 1
		for i > 0 && closureSegment.MatchString(parts[i-1]) {
			i--
		}
		if i == 0 {
			return "<" + strings.Join(parts, ".") + ">"
		}
		return parts[i-1] + "." + strings.Join(parts[i:], ".")
	}
	return last
}
