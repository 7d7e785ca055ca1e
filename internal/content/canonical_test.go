package content

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize_StripsTrackingAndCase(t *testing.T) {
	t.Parallel()

	a, err := Canonicalize("https://EXAMPLE.com/page?utm_source=a&utm_campaign=x")
	require.NoError(t, err)
	b, err := Canonicalize("https://example.com/page?utm_medium=b")
	require.NoError(t, err)

	require.Equal(t, "https://example.com/page", a)
	require.Equal(t, a, b)
}

func TestCanonicalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://Example.com/a/b?z=1&a=2&ref=hn#frag",
		"http://example.com:80/path",
		"https://example.com:443/path?fbclid=abc",
		"https://example.com/?utm_source=x&keep=1",
	}
	for _, raw := range inputs {
		once, err := Canonicalize(raw)
		require.NoError(t, err, raw)
		twice, err := Canonicalize(once)
		require.NoError(t, err, raw)
		require.Equal(t, once, twice, raw)
	}
}

func TestCanonicalize_SortsQueryAndDropsFragment(t *testing.T) {
	t.Parallel()

	got, err := Canonicalize("https://example.com/p?b=2&a=1#section")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/p?a=1&b=2", got)
}

func TestCanonicalize_BlankAndInvalid(t *testing.T) {
	t.Parallel()

	_, err := Canonicalize("")
	require.ErrorIs(t, err, ErrBlankURL)

	_, err = Canonicalize("   ")
	require.ErrorIs(t, err, ErrBlankURL)

	_, err = Canonicalize("not a url")
	require.ErrorIs(t, err, ErrInvalidURL)

	_, err = Canonicalize("/relative/path")
	require.ErrorIs(t, err, ErrInvalidURL)
}

func TestTitleFromURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "My Great Post", TitleFromURL("https://example.com/blog/my-great-post"))
	require.Equal(t, "Some Page", TitleFromURL("https://example.com/some_page.html"))
	require.Equal(t, "example.com", TitleFromURL("https://example.com/"))
}
