// Package bencode implements the bencoding used by BitTorrent metainfo
// files, tracker responses, and peer wire extensions: a tagged value tree
// with string, integer, list, and dictionary variants, plus a canonical
// encoder whose output is byte-stable (required since the info-hash is
// computed over the bencoded info sub-dictionary).
package bencode

import "sort"

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindList
	KindDictionary
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindList:
		return "list"
	case KindDictionary:
		return "dictionary"
	default:
		return "unknown"
	}
}

// Value is a tagged bencode value. Exactly one of Str, Int, List, or Dict
// is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Str  []byte
	Int  int64
	List []*Value
	Dict *Dictionary
}

func newString(b []byte) *Value { return &Value{Kind: KindString, Str: b} }
func newInteger(i int64) *Value { return &Value{Kind: KindInteger, Int: i} }
func newList(l []*Value) *Value { return &Value{Kind: KindList, List: l} }
func newDict(d *Dictionary) *Value {
	return &Value{Kind: KindDictionary, Dict: d}
}

// Clone returns a deep copy whose byte strings are independently owned,
// safe to retain past the lifetime of whatever buffer the original Value
// was decoded from.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case KindString:
		cp := make([]byte, len(v.Str))
		copy(cp, v.Str)
		return newString(cp)
	case KindInteger:
		return newInteger(v.Int)
	case KindList:
		cp := make([]*Value, len(v.List))
		for i, e := range v.List {
			cp[i] = e.Clone()
		}
		return newList(cp)
	case KindDictionary:
		return newDict(v.Dict.clone())
	default:
		return nil
	}
}

// Equal compares two values for deep equality, normalizing dictionary
// order to ascending keys (which Dictionary already maintains post-parse).
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return string(v.Str) == string(other.Str)
	case KindInteger:
		return v.Int == other.Int
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindDictionary:
		return v.Dict.equal(other.Dict)
	default:
		return false
	}
}

// Dictionary is an ordered mapping from a bencode string key to a Value.
// Insertion order is tolerated, but Keys always returns ascending
// lexicographic byte order, matching the canonical encoding rule.
type Dictionary struct {
	keys   []string
	values map[string]*Value
}

func newDictionary() *Dictionary {
	return &Dictionary{values: make(map[string]*Value)}
}

func (d *Dictionary) set(key string, v *Value) {
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// sortKeys reorders the insertion-order key slice into ascending byte
// order. Called once after a dictionary finishes parsing.
func (d *Dictionary) sortKeys() {
	sort.Strings(d.keys)
}

// Get looks up a key, returning (nil, false) if absent.
func (d *Dictionary) Get(key string) (*Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the dictionary's keys in ascending byte order.
func (d *Dictionary) Keys() []string {
	keys := append([]string(nil), d.keys...)
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	return len(d.keys)
}

func (d *Dictionary) clone() *Dictionary {
	cp := newDictionary()
	for _, k := range d.keys {
		cp.set(k, d.values[k].Clone())
	}
	return cp
}

func (d *Dictionary) equal(other *Dictionary) bool {
	if d.Len() != other.Len() {
		return false
	}
	for _, k := range d.keys {
		v, ok := other.Get(k)
		if !ok {
			return false
		}
		if !d.values[k].Equal(v) {
			return false
		}
	}
	return true
}
