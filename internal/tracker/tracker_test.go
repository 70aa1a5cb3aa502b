package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcheviron/gobittorrent/internal/metainfo"
)

func testMetainfo(t *testing.T, announce string) *metainfo.Metainfo {
	t.Helper()
	src := "d8:announce" + itoa(len(announce)) + ":" + announce +
		"4:infod6:lengthi10e4:name4:test12:piece lengthi5e6:pieces20:aaaaaaaaaaaaaaaaaaaaee"
	m, err := metainfo.ParseBytes([]byte(src))
	require.NoError(t, err)
	return m
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

func TestAnnounceParsesResponse(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("d8:intervali900e5:peers12:" + string([]byte{127, 0, 0, 1, 0x1A, 0xE1, 127, 0, 0, 2, 0x1A, 0xE2}) + "e"))
	}))
	defer srv.Close()

	m := testMetainfo(t, srv.URL)
	client := NewClient()
	resp, err := client.Announce(context.Background(), m, AnnounceOptions{
		PeerID:  "-GB0001-123456789012",
		Port:    6881,
		Left:    m.Info.Length,
		Compact: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(900), resp.Interval)

	peers, err := resp.Peers6()
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "127.0.0.1:6881", peers[0].String())
	assert.Equal(t, "127.0.0.2:6882", peers[1].String())

	assert.Equal(t, "1", gotQuery.Get("compact"))
	assert.Equal(t, "6881", gotQuery.Get("port"))
}

func TestAnnounceNon200IsTrackerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := testMetainfo(t, srv.URL)
	client := NewClient()
	_, err := client.Announce(context.Background(), m, AnnounceOptions{PeerID: "-GB0001-123456789012"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTrackerServerError)
}

func TestAnnounceMalformedPeersLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("d8:intervali900e5:peers5:abcdee"))
	}))
	defer srv.Close()

	m := testMetainfo(t, srv.URL)
	client := NewClient()
	_, err := client.Announce(context.Background(), m, AnnounceOptions{PeerID: "-GB0001-123456789012"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTrackerResponse)
}

func TestParseCompactPeers(t *testing.T) {
	raw := []byte{10, 0, 0, 1, 0x00, 0x50, 10, 0, 0, 2, 0x00, 0x51}
	peers, err := ParseCompactPeers(raw)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "10.0.0.1:80", peers[0].String())
	assert.Equal(t, "10.0.0.2:81", peers[1].String())
}

func TestParseCompactPeersInvalidLength(t *testing.T) {
	_, err := ParseCompactPeers([]byte{1, 2, 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTrackerResponse)
}
