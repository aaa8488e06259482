package encrypt

import (
	"fmt"
	"reflect"
)

// OpenStruct decrypts, in place, every string field tagged `encrypt:"true"`
// that holds a sealed value. Nested structs are walked.
func (s *Service) OpenStruct(v interface{}) error {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return nil
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		typeField := typ.Field(i)

		if field.Kind() == reflect.Struct && field.CanAddr() {
			if err := s.OpenStruct(field.Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		if typeField.Tag.Get("encrypt") != "true" {
			continue
		}

		if field.Kind() != reflect.String || !field.CanSet() {
			continue
		}

		plaintext, err := s.Open(field.String())
		if err != nil {
			return fmt.Errorf("field %q: %w", typeField.Name, err)
		}

		field.SetString(plaintext)
	}

	return nil
}

// HasSealedFields reports whether any `encrypt:"true"` field of v holds a
// sealed value, so callers can tell whether a key is needed at all.
func HasSealedFields(v interface{}) bool {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return false
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if field.Kind() == reflect.Struct {
			if field.CanAddr() && HasSealedFields(field.Addr().Interface()) {
				return true
			}
			continue
		}
		if typ.Field(i).Tag.Get("encrypt") == "true" && field.Kind() == reflect.String && IsSealed(field.String()) {
			return true
		}
	}
	return false
}
