package binder

import (
	"net/http"
	"reflect"
)

// Path fills string fields tagged `path:"name"` using extractor, typically
// chi.URLParam. Fields without the tag are left alone.
func Path(extractor func(r *http.Request, key string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
			return invalid(ErrInvalidTarget, "got %T", v)
		}
		rv = rv.Elem()
		rt := rv.Type()

		for i := range rt.NumField() {
			sf := rt.Field(i)
			name := sf.Tag.Get("path")
			if name == "" || name == "-" || !sf.IsExported() {
				continue
			}
			field := rv.Field(i)
			if field.Kind() != reflect.String {
				return invalid(ErrFailedToParsePath, "field %s: only string fields are supported", sf.Name)
			}
			field.SetString(extractor(r, name))
		}
		return nil
	}
}
