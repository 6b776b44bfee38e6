package presence

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const docURL = "https://cad.onshape.com/documents/0123456789abcdef01234567/w/aaaa/e/bbbb"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDocumentID(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{docURL, "0123456789abcdef01234567"},
		{"https://cad.onshape.com/documents/0123456789ABCDEF01234567", "0123456789abcdef01234567"},
		{"https://cad.onshape.com/documents/0123456789abcdef01234567?x=1#y", "0123456789abcdef01234567"},
		{"https://cad.onshape.com/documents", ""},
		{"https://cad.onshape.com/documents/0123456789abcdef0123456", ""},   // 23 chars
		{"https://cad.onshape.com/documents/0123456789abcdef012345678", ""}, // 25 chars
		{"https://cad.onshape.com/documents/zzzz456789abcdef01234567", ""},
		{"https://cad.onshape.com/x/documents/0123456789abcdef01234567", ""},
		{"::not a url", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DocumentID(tc.url), tc.url)
	}
}

func TestDetector_MountUnmount(t *testing.T) {
	d := NewDetector(nil, testLogger())

	v := d.Observe("https://cad.onshape.com/signin")
	assert.Equal(t, NoChange, v.Change)
	assert.False(t, d.Mounted())

	v = d.Observe(docURL)
	assert.Equal(t, Mount, v.Change)
	assert.Equal(t, "0123456789abcdef01234567", v.DocumentID)
	assert.True(t, d.Mounted())

	v = d.Observe("https://cad.onshape.com/documents?filter=0")
	assert.Equal(t, Unmount, v.Change)
	assert.Equal(t, "0123456789abcdef01234567", v.Previous)
	assert.False(t, d.Mounted())
}

func TestDetector_SpuriousNotificationsAreIdempotent(t *testing.T) {
	d := NewDetector(nil, testLogger())

	mounts := 0
	for i := 0; i < 10; i++ {
		if d.Observe(docURL).Change == Mount {
			mounts++
		}
	}
	assert.Equal(t, 1, mounts)

	// Same document, different element tab: no remount, no switch.
	v := d.Observe("https://cad.onshape.com/documents/0123456789abcdef01234567/w/aaaa/e/cccc")
	assert.Equal(t, NoChange, v.Change)

	unmounts := 0
	for i := 0; i < 5; i++ {
		if d.Observe("https://cad.onshape.com/").Change == Unmount {
			unmounts++
		}
	}
	assert.Equal(t, 1, unmounts)
}

func TestDetector_SwitchDocument(t *testing.T) {
	d := NewDetector(nil, testLogger())
	require.Equal(t, Mount, d.Observe(docURL).Change)

	v := d.Observe("https://cad.onshape.com/documents/ffffffffffffffffffffffff/w/1")
	assert.Equal(t, Switch, v.Change)
	assert.Equal(t, "ffffffffffffffffffffffff", v.DocumentID)
	assert.Equal(t, "0123456789abcdef01234567", v.Previous)
	assert.True(t, d.Mounted())
}

func TestDetector_HostFilter(t *testing.T) {
	d := NewDetector([]string{"cad.onshape.com"}, testLogger())

	assert.Equal(t, NoChange, d.Observe("https://evil.example.com/documents/0123456789abcdef01234567").Change)
	assert.False(t, d.Mounted())
	assert.Equal(t, Mount, d.Observe(docURL).Change)
}

func TestDetector_MountedIffDocument(t *testing.T) {
	urls := []string{
		"https://cad.onshape.com/",
		docURL,
		docURL,
		"https://cad.onshape.com/documents/ffffffffffffffffffffffff",
		"https://cad.onshape.com/help",
		"https://cad.onshape.com/help",
		docURL,
	}
	d := NewDetector(nil, testLogger())
	for _, u := range urls {
		d.Observe(u)
		assert.Equal(t, DocumentID(u) != "", d.Mounted(), u)
	}
}

func TestDetector_ForgetRemountsSameURL(t *testing.T) {
	d := NewDetector(nil, testLogger())
	require.Equal(t, Mount, d.Observe(docURL).Change)

	d.Forget()
	assert.False(t, d.Mounted())
	assert.Equal(t, Mount, d.Observe(docURL).Change)
}
