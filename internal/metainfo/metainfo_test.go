package metainfo

import (
	"crypto/sha1"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePieces() string {
	var b strings.Builder
	for i := 0; i < 3; i++ {
		h := sha1.Sum([]byte{byte(i)})
		b.Write(h[:])
	}
	return b.String()
}

func sampleTorrentBytes() []byte {
	pieces := samplePieces()
	src := "d8:announce14:http://tracker4:infod6:lengthi92063e4:name6:sample12:piece lengthi32768e6:pieces" +
		itoa(len(pieces)) + ":" + pieces + "ee"
	return []byte(src)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestParseBytesProjectsFields(t *testing.T) {
	m, err := ParseBytes(sampleTorrentBytes())
	require.NoError(t, err)
	assert.Equal(t, "http://tracker", m.Announce)
	assert.Equal(t, "sample", m.Info.Name)
	assert.Equal(t, int64(92063), m.Info.Length)
	assert.Equal(t, int64(32768), m.Info.PieceLength)
}

func TestPieceCountAndLength(t *testing.T) {
	m, err := ParseBytes(sampleTorrentBytes())
	require.NoError(t, err)

	require.Equal(t, 3, m.PieceCount())
	assert.Equal(t, int64(32768), m.PieceLength(0))
	assert.Equal(t, int64(32768), m.PieceLength(1))
	assert.Equal(t, int64(92063-2*32768), m.PieceLength(2))
	assert.Equal(t, int64(26527), m.PieceLength(2))

	var sum int64
	for i := 0; i < m.PieceCount(); i++ {
		sum += m.PieceLength(i)
	}
	assert.Equal(t, m.Info.Length, sum)
}

func TestPieceHashMatchesSourceWindow(t *testing.T) {
	m, err := ParseBytes(sampleTorrentBytes())
	require.NoError(t, err)

	for i := 0; i < m.PieceCount(); i++ {
		expected := sha1.Sum([]byte{byte(i)})
		assert.Equal(t, expected, m.PieceHash(i))
	}
}

func TestInfoHashIsOrderIndependent(t *testing.T) {
	pieces := samplePieces()
	ordered := "d8:announce14:http://tracker4:infod6:lengthi92063e4:name6:sample12:piece lengthi32768e6:pieces" +
		itoa(len(pieces)) + ":" + pieces + "ee"
	reordered := "d8:announce14:http://tracker4:infod4:name6:sample6:pieces" +
		itoa(len(pieces)) + ":" + pieces + "6:lengthi92063e12:piece lengthi32768eee"

	m1, err := ParseBytes([]byte(ordered))
	require.NoError(t, err)
	m2, err := ParseBytes([]byte(reordered))
	require.NoError(t, err)

	assert.Equal(t, m1.InfoHash(), m2.InfoHash())
}

func TestHashInfoMatchesInfoHash(t *testing.T) {
	m, err := ParseBytes(sampleTorrentBytes())
	require.NoError(t, err)

	viaParsed := m.InfoHash()
	viaEncode, err := HashInfo(m.Info)
	require.NoError(t, err)

	assert.Equal(t, viaParsed, viaEncode)
}

func TestMissingAnnounceIsMalformed(t *testing.T) {
	_, err := ParseBytes([]byte("d4:infod6:lengthi1e4:name1:x12:piece lengthi1e6:pieces0:ee"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedMetainfo)
}

func TestNonMultipleOfTwentyPiecesIsMalformed(t *testing.T) {
	src := "d8:announce3:url4:infod6:lengthi1e4:name1:x12:piece lengthi1e6:pieces3:abcee"
	_, err := ParseBytes([]byte(src))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedMetainfo)
}

func TestZeroPieceLengthIsMalformed(t *testing.T) {
	src := "d8:announce3:url4:infod6:lengthi1e4:name1:x12:piece lengthi0e6:pieces0:ee"
	_, err := ParseBytes([]byte(src))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedMetainfo)
}

func TestMissingInfoNameIsMalformed(t *testing.T) {
	src := "d8:announce3:url4:infod6:lengthi1e12:piece lengthi1e6:pieces0:ee"
	_, err := ParseBytes([]byte(src))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedMetainfo)
}

func TestMissingInfoLengthIsMalformed(t *testing.T) {
	src := "d8:announce3:url4:infod4:name1:x12:piece lengthi1e6:pieces0:ee"
	_, err := ParseBytes([]byte(src))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedMetainfo)
}
