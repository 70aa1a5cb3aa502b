package bencode

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
)

// Encode writes the canonical bencoding of v to w: dictionary keys in
// ascending byte order, minimal-form integers, length-prefixed strings.
func Encode(v *Value, w io.Writer) error {
	switch v.Kind {
	case KindString:
		return encodeStringBytes(v.Str, w)
	case KindInteger:
		return encodeInt64(v.Int, w)
	case KindList:
		if _, err := io.WriteString(w, "l"); err != nil {
			return err
		}
		for _, item := range v.List {
			if err := Encode(item, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	case KindDictionary:
		if _, err := io.WriteString(w, "d"); err != nil {
			return err
		}
		for _, k := range v.Dict.Keys() {
			if err := encodeStringBytes([]byte(k), w); err != nil {
				return err
			}
			val, _ := v.Dict.Get(k)
			if err := Encode(val, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	default:
		return fmt.Errorf("bencode: cannot encode value of kind %s", v.Kind)
	}
}

// Marshal is a convenience wrapper returning the canonical bencoding of v
// as a byte slice.
func Marshal(v *Value) ([]byte, error) {
	var buf writerBuffer
	if err := Encode(v, &buf); err != nil {
		return nil, err
	}
	return buf.b, nil
}

func encodeStringBytes(b []byte, w io.Writer) error {
	if _, err := io.WriteString(w, strconv.Itoa(len(b))+":"); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func encodeInt64(n int64, w io.Writer) error {
	_, err := io.WriteString(w, "i"+strconv.FormatInt(n, 10)+"e")
	return err
}

type writerBuffer struct{ b []byte }

func (w *writerBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// EncodeTyped writes v (a struct or map) to w as a canonical bencoded
// dictionary whose keys are the `bencode:"..."` struct tag names (or, for
// a map[string]any, the map's own keys), sorted to ascending byte order
// regardless of field declaration order. This is what metainfo uses to
// re-derive the info-hash from a programmatically constructed Info value.
func EncodeTyped(v any, w io.Writer) error {
	return encodeReflect(reflect.ValueOf(v), w)
}

// MarshalTyped is the byte-slice convenience form of EncodeTyped.
func MarshalTyped(v any) ([]byte, error) {
	var buf writerBuffer
	if err := EncodeTyped(v, &buf); err != nil {
		return nil, err
	}
	return buf.b, nil
}

func encodeReflect(val reflect.Value, w io.Writer) error {
	for val.Kind() == reflect.Ptr || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return fmt.Errorf("bencode: cannot encode nil %s", val.Kind())
		}
		val = val.Elem()
	}
	switch val.Kind() {
	case reflect.String:
		return encodeStringBytes([]byte(val.String()), w)
	case reflect.Slice, reflect.Array:
		if val.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, val.Len())
			reflect.Copy(reflect.ValueOf(b), val)
			return encodeStringBytes(b, w)
		}
		if _, err := io.WriteString(w, "l"); err != nil {
			return err
		}
		for i := 0; i < val.Len(); i++ {
			if err := encodeReflect(val.Index(i), w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return encodeInt64(val.Int(), w)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return encodeInt64(int64(val.Uint()), w)
	case reflect.Struct:
		return encodeStructReflect(val, w)
	case reflect.Map:
		return encodeMapReflect(val, w)
	default:
		return fmt.Errorf("bencode: unsupported type %s", val.Type())
	}
}

type taggedField struct {
	key string
	val reflect.Value
}

func encodeStructReflect(val reflect.Value, w io.Writer) error {
	t := val.Type()
	fields := make([]taggedField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" { // unexported
			continue
		}
		tag := sf.Tag.Get("bencode")
		if tag == "-" {
			continue
		}
		name, opts := splitTag(tag)
		if name == "" {
			name = sf.Name
		}
		fv := val.Field(i)
		if opts == "omitempty" && fv.IsZero() {
			continue
		}
		fields = append(fields, taggedField{key: name, val: fv})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].key < fields[j].key })

	if _, err := io.WriteString(w, "d"); err != nil {
		return err
	}
	for _, f := range fields {
		if err := encodeStringBytes([]byte(f.key), w); err != nil {
			return err
		}
		if err := encodeReflect(f.val, w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "e")
	return err
}

func splitTag(tag string) (name, opts string) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i], tag[i+1:]
		}
	}
	return tag, ""
}

func encodeMapReflect(val reflect.Value, w io.Writer) error {
	if val.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("bencode: map key must be string, got %s", val.Type().Key())
	}
	keys := val.MapKeys()
	strKeys := make([]string, len(keys))
	for i, k := range keys {
		strKeys[i] = k.String()
	}
	sort.Strings(strKeys)

	if _, err := io.WriteString(w, "d"); err != nil {
		return err
	}
	for _, k := range strKeys {
		if err := encodeStringBytes([]byte(k), w); err != nil {
			return err
		}
		if err := encodeReflect(val.MapIndex(reflect.ValueOf(k)), w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "e")
	return err
}
