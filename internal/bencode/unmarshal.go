package bencode

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// Unmarshal decodes b and projects the resulting value tree onto v (a
// pointer to a struct or map) using `bencode:"..."` struct tags, the way
// the metainfo and tracker packages turn a decoded dictionary into a
// typed record without hand-written per-field type assertions.
func Unmarshal(b []byte, v any) error {
	root, err := DecodeBytes(b)
	if err != nil {
		return err
	}
	return unmarshalValue(root, v)
}

// UnmarshalValue projects an already-decoded tree onto v, for callers
// (like metainfo.ParseBytes) that need to inspect the tree themselves
// before or after projection.
func UnmarshalValue(root *Value, v any) error {
	return unmarshalValue(root, v)
}

func unmarshalValue(root *Value, v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "bencode",
		Result:           v,
		WeaklyTypedInput: true,
		DecodeHook:       stringToByteSliceHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(toGeneric(root))
}

// toGeneric converts a Value tree into the plain map[string]any /
// []any / string / int64 shape mapstructure knows how to walk.
func toGeneric(v *Value) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case KindString:
		return string(v.Str)
	case KindInteger:
		return v.Int
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = toGeneric(e)
		}
		return out
	case KindDictionary:
		out := make(map[string]any, v.Dict.Len())
		for _, k := range v.Dict.Keys() {
			val, _ := v.Dict.Get(k)
			out[k] = toGeneric(val)
		}
		return out
	default:
		return nil
	}
}

// stringToByteSliceHookFunc lets a bencode string decode straight into a
// []byte struct field (e.g. Info.Pieces), which mapstructure does not do
// by default since it treats []byte as an opaque slice type rather than
// as text.
func stringToByteSliceHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		if to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.Uint8 {
			return data, nil
		}
		return []byte(data.(string)), nil
	}
}
