package slabmeta

import (
	"fmt"
	"reflect"
)

// containsNoPointers asserts that O has no field the Go garbage collector
// would scan: Superslab and Mediumslab headers are overlaid onto raw
// mmap'd memory (internal/slabmeta's whole reason for existing) and are
// never part of the Go heap's object graph, so a real pointer field inside
// one would be silently invisible to the GC — it could be collected while
// the allocator still considers it live. uintptr is exempt: it is exactly
// how this package stores "addresses we promise to manage ourselves".
func containsNoPointers[O any]() error {
	t := reflect.TypeFor[O]()
	return searchForPointers(t)
}

func searchForPointers(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return nil

	case reflect.Array:
		return searchForPointers(t.Elem())

	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := searchForPointers(t.Field(i).Type); err != nil {
				return fmt.Errorf("%s.%s: %w", t.Name(), t.Field(i).Name, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("GC-visible field of kind %s found in %s", t.Kind(), t)
	}
}
