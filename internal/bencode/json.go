package bencode

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ToJSON renders a decoded Value as JSON, the mapping the `decode` CLI
// subcommand prints to stdout: strings assumed UTF-8 for display,
// integers as JSON numbers, lists as arrays, dictionaries as objects
// with keys in ascending order (which Dictionary already maintains).
func ToJSON(v *Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(v, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(v *Value, buf *bytes.Buffer) error {
	switch v.Kind {
	case KindString:
		enc, err := json.Marshal(string(v.Str))
		if err != nil {
			return err
		}
		buf.Write(enc)
		return nil
	case KindInteger:
		fmt.Fprintf(buf, "%d", v.Int)
		return nil
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(item, buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case KindDictionary:
		buf.WriteByte('{')
		for i, k := range v.Dict.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyEnc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyEnc)
			buf.WriteByte(':')
			val, _ := v.Dict.Get(k)
			if err := writeJSON(val, buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("bencode: cannot render kind %s as JSON", v.Kind)
	}
}
