package wm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURLLowercasesHostAndStripsQueryAndTrailingSlash(t *testing.T) {
	got, err := NormalizeURL("https://Example.COM/webhooks/?foo=bar#frag")

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/webhooks", got)
}

func TestNormalizeURLIsIdempotent(t *testing.T) {
	once, err := NormalizeURL("https://Example.COM/webhooks/")
	require.NoError(t, err)
	twice, err := NormalizeURL(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestNormalizeURLRejectsUnparseable(t *testing.T) {
	_, err := NormalizeURL("://not-a-url")

	require.Error(t, err)
}
