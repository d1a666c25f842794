package detector

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wprank/backend/pkg/config"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestMatchSignatures(t *testing.T) {
	tests := []struct {
		name        string
		html        string
		want        []string
		independent int
	}{
		{
			name: "plain site",
			html: `<html><head><title>Hi</title></head><body><p>hello</p></body></html>`,
		},
		{
			name:        "single content path",
			html:        `<img src="/wp-content/uploads/a.png">`,
			want:        []string{"wp-content"},
			independent: 1,
		},
		{
			name:        "generator only",
			html:        `<meta name="generator" content="WordPress 6.4.2">`,
			want:        []string{"generator"},
			independent: 1,
		},
		{
			name: "non wordpress generator",
			html: `<meta name="generator" content="Hugo 0.120">`,
		},
		{
			name: "typical theme",
			html: `<link rel="stylesheet" href="/wp-includes/css/dist/block-library/style.min.css">
				<div class="wp-block-group"><img src="/wp-content/uploads/x.jpg"></div>`,
			want:        []string{"wp-content", "wp-includes", "block-classes"},
			independent: 3,
		},
		{
			name:        "rest discovery link",
			html:        `<link rel="https://api.w.org/" href="https://example.com/wp-json/">`,
			want:        []string{"wp-json"},
			independent: 1,
		},
		{
			name:        "emoji script file",
			html:        `<script src="/wp-includes/js/wp-emoji-release.min.js"></script>`,
			want:        []string{"wp-includes"},
			independent: 1,
		},
		{
			name:        "emoji settings inline",
			html:        `<script>window._wpemojiSettings = {"source":{"concatemoji":"https:\/\/example.com\/wp-includes\/js\/wp-emoji-release.min.js"}};</script>`,
			want:        []string{"wp-includes", "wp-emoji"},
			independent: 1,
		},
		{
			name:        "block image from uploads",
			html:        `<img class="wp-block-image" src="/wp-content/uploads/a.png">`,
			want:        []string{"wp-content", "block-classes"},
			independent: 1,
		},
		{
			name: "separate elements",
			html: `<link rel="https://api.w.org/" href="https://example.com/wp-json/">
				<script>window._wpemojiSettings = {};</script>`,
			want:        []string{"wp-json", "wp-emoji"},
			independent: 2,
		},
		{
			name: "shared element does not hide a second source",
			html: `<img class="wp-block-image" src="/wp-content/uploads/a.png">
				<div class="wp-block-group"></div>`,
			want:        []string{"wp-content", "block-classes"},
			independent: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := MatchSignatures(parse(t, tt.html))
			assert.Equal(t, tt.want, ev.Names)
			assert.Equal(t, tt.independent, ev.Independent)
		})
	}
}

func TestClassifySingleElementIsNotWordPress(t *testing.T) {
	d := New(config.Default().Crawler, noWait{}, nil)

	for _, html := range []string{
		`<html><head><link rel="https://api.w.org/" href="https://example.com/wp-json/"></head></html>`,
		`<html><head><script src="/wp-includes/js/wp-emoji-release.min.js"></script></head></html>`,
		`<html><body><img class="wp-block-image" src="/wp-content/uploads/a.png"></body></html>`,
	} {
		res := d.classify(html, false)
		assert.Equal(t, StatusAnalyzed, res.Status, html)
		assert.False(t, res.IsWordPress, html)
		assert.Zero(t, res.PluginCount, html)
	}

	res := d.classify(`<html><head><link rel="https://api.w.org/" href="https://example.com/wp-json/">
		<script>window._wpemojiSettings = {};</script></head></html>`, false)
	assert.True(t, res.IsWordPress)
}

func TestWordPressVersion(t *testing.T) {
	doc := parse(t, `<meta name="generator" content="Site Kit"><meta name="generator" content="WordPress 6.4.2">`)
	assert.Equal(t, "6.4.2", wordPressVersion(doc))

	assert.Empty(t, wordPressVersion(parse(t, `<p>none</p>`)))
}

func TestEstimatePluginsDeduplicates(t *testing.T) {
	html := `<script src="/wp-content/plugins/akismet/x.js"></script>
		<link href="/wp-content/plugins/akismet/y.css">
		<link href="/wp-content/plugins/akismet/y.css">
		<script src="https://cdn.example.com/wp-content/plugins/Contact-Form-7/main.js?ver=5"></script>
		<script src="/wp-content/plugins/a/tiny.js"></script>
		<script src="/wp-content/plugins/admin/z.js"></script>`

	slugs, evidence := estimatePlugins(html, 20)
	assert.Equal(t, []string{"akismet", "contact-form-7"}, slugs)
	assert.Equal(t, []string{
		"/wp-content/plugins/akismet/x.js",
		"/wp-content/plugins/akismet/y.css",
		"https://cdn.example.com/wp-content/plugins/Contact-Form-7/main.js?ver=5",
	}, evidence)
}

func TestEstimatePluginsEvidenceCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString(`<script src="/wp-content/plugins/plugin-`)
		b.WriteByte(byte('a' + i%26))
		b.WriteByte(byte('a' + i/26))
		b.WriteString(`/main.js"></script>`)
	}

	slugs, evidence := estimatePlugins(b.String(), 20)
	assert.Len(t, slugs, 30)
	assert.Len(t, evidence, 20)
}

func TestDetectTheme(t *testing.T) {
	assert.Equal(t, "Twenty Twenty Four", detectTheme(`<link href="/wp-content/themes/twenty-twenty_four/style.css">`))
	assert.Equal(t, "Astra", detectTheme(`<link href="/wp-content/themes/astra/a.css"><link href="/wp-content/themes/child/b.css">`))
	assert.Empty(t, detectTheme(`<p>no theme</p>`))
}
