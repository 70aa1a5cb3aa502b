// Package metainfo projects a decoded bencode dictionary onto the typed
// torrent record the rest of the client operates on, and derives the
// info-hash and per-piece hash/length arithmetic from it.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"os"

	"github.com/mcheviron/gobittorrent/internal/bencode"
)

// ErrMalformedMetainfo wraps every reason a .torrent file's dictionary
// fails to project onto Metainfo: a missing key, a wrong-typed key, or
// an out-of-range numeric field.
var ErrMalformedMetainfo = errors.New("metainfo: malformed torrent metadata")

const pieceHashSize = 20

// Info is the projected `info` sub-dictionary.
type Info struct {
	Name        string `bencode:"name"`
	Length      int64  `bencode:"length"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      []byte `bencode:"pieces"`
}

// Metainfo is the projected top-level torrent dictionary, plus the raw
// bencoded bytes of the info sub-dictionary exactly as they appeared in
// the source file (InfoHash re-encodes them canonically before hashing).
type Metainfo struct {
	Announce string `bencode:"announce"`
	Info     Info   `bencode:"info"`

	rawInfo []byte
}

// Load reads and parses a .torrent file from path.
func Load(path string) (*Metainfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: read %s: %w", path, err)
	}
	return ParseBytes(b)
}

// ParseBytes parses an already-read .torrent file buffer.
func ParseBytes(b []byte) (*Metainfo, error) {
	root, err := bencode.DecodeBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMetainfo, err)
	}
	if root.Kind != bencode.KindDictionary {
		return nil, fmt.Errorf("%w: top level value is not a dictionary", ErrMalformedMetainfo)
	}

	var m Metainfo
	if err := bencode.UnmarshalValue(root, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMetainfo, err)
	}

	if _, ok := root.Dict.Get("announce"); !ok {
		return nil, fmt.Errorf("%w: missing announce", ErrMalformedMetainfo)
	}
	infoValue, ok := root.Dict.Get("info")
	if !ok {
		return nil, fmt.Errorf("%w: missing info", ErrMalformedMetainfo)
	}
	if infoValue.Kind != bencode.KindDictionary {
		return nil, fmt.Errorf("%w: info is not a dictionary", ErrMalformedMetainfo)
	}
	for _, key := range []string{"name", "length", "piece length", "pieces"} {
		if _, ok := infoValue.Dict.Get(key); !ok {
			return nil, fmt.Errorf("%w: info missing %s", ErrMalformedMetainfo, key)
		}
	}

	start, end, found, err := bencode.ValueSpan(b, "info")
	if err != nil || !found {
		return nil, fmt.Errorf("%w: could not locate info sub-dictionary bytes", ErrMalformedMetainfo)
	}
	m.rawInfo = append([]byte(nil), b[start:end]...)

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metainfo) validate() error {
	if m.Info.Length < 0 {
		return fmt.Errorf("%w: negative length", ErrMalformedMetainfo)
	}
	if m.Info.PieceLength <= 0 {
		return fmt.Errorf("%w: non-positive piece length", ErrMalformedMetainfo)
	}
	if len(m.Info.Pieces)%pieceHashSize != 0 {
		return fmt.Errorf("%w: pieces length %d is not a multiple of %d", ErrMalformedMetainfo, len(m.Info.Pieces), pieceHashSize)
	}
	return nil
}

// InfoHash returns the SHA-1 of the canonical bencoding of the info
// sub-dictionary: the bytes recorded during parsing are decoded and
// re-encoded with keys in ascending byte order, so the result does not
// depend on the key order of the source file.
func (m *Metainfo) InfoHash() [20]byte {
	if v, err := bencode.DecodeBytes(m.rawInfo); err == nil {
		if canonical, err := bencode.Marshal(v); err == nil {
			return sha1.Sum(canonical)
		}
	}
	return sha1.Sum(m.rawInfo)
}

// RawInfo returns the exact bencoded bytes of the info sub-dictionary as
// they appeared in the source file.
func (m *Metainfo) RawInfo() []byte {
	return m.rawInfo
}

// PieceCount returns the number of pieces in the torrent.
func (m *Metainfo) PieceCount() int {
	return len(m.Info.Pieces) / pieceHashSize
}

// PieceLength returns the length in bytes of piece i: PieceLength for
// every piece but the last, whose length is the remainder.
func (m *Metainfo) PieceLength(i int) int64 {
	count := m.PieceCount()
	if i == count-1 {
		return m.Info.Length - m.Info.PieceLength*int64(count-1)
	}
	return m.Info.PieceLength
}

// PieceHash returns the 20-byte SHA-1 digest recorded for piece i.
func (m *Metainfo) PieceHash(i int) [20]byte {
	var h [20]byte
	copy(h[:], m.Info.Pieces[i*pieceHashSize:(i+1)*pieceHashSize])
	return h
}

// HashInfo computes the info-hash of an Info value built without a raw
// byte range available (e.g. constructed programmatically in tests), by
// canonically re-encoding it via bencode.EncodeTyped. Proven equivalent
// to Metainfo.InfoHash for canonical input in the test suite.
func HashInfo(info Info) ([20]byte, error) {
	b, err := bencode.MarshalTyped(info)
	if err != nil {
		return [20]byte{}, fmt.Errorf("metainfo: encode info: %w", err)
	}
	return sha1.Sum(b), nil
}
