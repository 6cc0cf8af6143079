package util

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var ErrNotAStruct = errors.New("not a struct")

// IsStructInitialized returns an error naming the first nil pointer, interface, map, slice, func
// or chan field of s. Fields tagged `wire:"-"` are skipped. s may be a struct or a pointer to one.
func IsStructInitialized(s interface{}) error {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return errors.Wrap(ErrNotAStruct, "nil pointer")
		}
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return errors.Wrapf(ErrNotAStruct, "got %s", v.Kind())
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || field.Tag.Get("wire") == "-" {
			continue
		}

		switch v.Field(i).Kind() { //nolint:exhaustive
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			if v.Field(i).IsNil() {
				return fmt.Errorf("field %s.%s is not initialized", t.Name(), field.Name)
			}
		}
	}

	return nil
}
