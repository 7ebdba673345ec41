package magnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHexInfoHash(t *testing.T) {
	link, err := Parse("magnet:?xt=urn:btih:d69f91e6b2ae4c542468d1073a71d4ea13879a7f&dn=sample&tr=http%3A%2F%2Ftracker1&tr=http%3A%2F%2Ftracker2")
	require.NoError(t, err)
	assert.Equal(t, "sample", link.DisplayName)
	assert.Equal(t, []string{"http://tracker1", "http://tracker2"}, link.Trackers)
	assert.Equal(t, "d69f91e6b2ae4c542468d1073a71d4ea13879a7f", hexOf(link.InfoHash))
}

func TestParseBase32InfoHash(t *testing.T) {
	// base32 encoding of the same 20 bytes as the hex test above.
	link, err := Parse("magnet:?xt=urn:btih:22PZDZVSVZGFIJDI2EDTU4OU5IJYPGT7")
	require.NoError(t, err)
	assert.Equal(t, "d69f91e6b2ae4c542468d1073a71d4ea13879a7f", hexOf(link.InfoHash))
}

func TestParseIgnoresUnknownParams(t *testing.T) {
	link, err := Parse("magnet:?xt=urn:btih:d69f91e6b2ae4c542468d1073a71d4ea13879a7f&unknown=1&ws=http://foo")
	require.NoError(t, err)
	assert.NotNil(t, link)
}

func TestParseRejectsMissingXt(t *testing.T) {
	_, err := Parse("magnet:?dn=foo")
	assert.Error(t, err)
}

func TestParseRejectsBadScheme(t *testing.T) {
	_, err := Parse("http://example.com")
	assert.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	link, err := Parse("magnet:?xt=urn:btih:d69f91e6b2ae4c542468d1073a71d4ea13879a7f&dn=sample&tr=http%3A%2F%2Ftracker1")
	require.NoError(t, err)
	again, err := Parse(link.String())
	require.NoError(t, err)
	assert.Equal(t, link.InfoHash, again.InfoHash)
	assert.Equal(t, link.DisplayName, again.DisplayName)
	assert.Equal(t, link.Trackers, again.Trackers)
}

func hexOf(b [20]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 40)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
