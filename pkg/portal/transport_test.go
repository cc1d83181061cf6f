package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportURIRoundTrip(t *testing.T) {
	cases := []Transport{
		{Kind: KindUnix, Path: "/home/boxes/abc/sockets/box.sock"},
		{Kind: KindTCP, Host: "127.0.0.1", Port: 9000},
		{Kind: KindVsock, CID: 42, VsockPort: 1024},
	}

	for _, tc := range cases {
		uri := tc.String()
		got, err := ParseURI(uri)
		require.NoError(t, err)
		assert.Equal(t, tc, got, "round trip of %s", uri)
	}
}

func TestParseURIRejectsUnknownScheme(t *testing.T) {
	_, err := ParseURI("ftp://nope")
	assert.Error(t, err)
}

func TestParseURIRejectsMissingPort(t *testing.T) {
	_, err := ParseURI("tcp://hostonly")
	assert.Error(t, err)
}
