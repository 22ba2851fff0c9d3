// Package assert panics on broken programmer invariants, it is not for validating input.
package assert

import (
	"fmt"
	"reflect"
)

// NotNil panics when `value` is nil, including nil pointers, maps, slices, funcs and channels
// stored in an interface.
func NotNil(value any, name string) {
	if isNil(value) {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func NotEmptyStr(str string, name string) {
	if str == "" {
		panic(fmt.Sprintf("%s must not be empty", name))
	}
}

// True panics with `msg` when `cond` does not hold.
func True(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}
