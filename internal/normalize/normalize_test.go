package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStripsChrome(t *testing.T) {
	t.Parallel()

	raw := []byte(`<html><head><title>ignored</title><style>.x{}</style></head>
<body>
  <nav>Home | About</nav>
  <script>var tracking = "` + "`" + `abc` + "`" + `";</script>
  <main>Rule 42 takes effect on <b>January 1</b>.</main>
  <footer>© 2026 Agency</footer>
</body></html>`)

	n := New()
	got, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "Rule 42 takes effect on January 1.", got)
	assert.NotContains(t, got, "tracking")
	assert.NotContains(t, got, "Home | About")
	assert.NotContains(t, got, "Agency")
}

func TestNormalizeStableAcrossFormatting(t *testing.T) {
	t.Parallel()

	a := []byte("<body><p>Fee   schedule\n\nupdated</p></body>")
	b := []byte("<body>\n\t<p>Fee schedule updated</p>\n</body>")

	n := New()
	gotA, err := n.Normalize(a)
	require.NoError(t, err)
	gotB, err := n.Normalize(b)
	require.NoError(t, err)

	assert.Equal(t, gotA, gotB)
}

func TestNormalizeNoBody(t *testing.T) {
	t.Parallel()

	n := New()
	got, err := n.Normalize([]byte("just text, no markup"))
	require.NoError(t, err)
	assert.Equal(t, "just text, no markup", got)
}

func TestNormalizeEmpty(t *testing.T) {
	t.Parallel()

	n := New()
	got, err := n.Normalize(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
