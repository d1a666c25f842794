package detector

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	pluginURL = regexp.MustCompile(`[^"'\s()<>]*/wp-content/plugins/([A-Za-z0-9_.-]+)/[^"'\s()<>]*`)
	themePath = regexp.MustCompile(`/wp-content/themes/([A-Za-z0-9_.-]+)/`)

	pluginStoplist = map[string]bool{
		"wp-content": true,
		"plugins":    true,
		"admin":      true,
		"includes":   true,
	}
)

// estimatePlugins returns the distinct plugin slugs referenced by asset URLs
// and up to evidenceCap distinct URLs as evidence.
func estimatePlugins(html string, evidenceCap int) (slugs []string, evidence []string) {
	seenSlug := make(map[string]bool)
	seenURL := make(map[string]bool)

	for _, m := range pluginURL.FindAllStringSubmatch(html, -1) {
		slug := strings.ToLower(m[1])
		if len(slug) < 2 || pluginStoplist[slug] {
			continue
		}

		if !seenSlug[slug] {
			seenSlug[slug] = true
			slugs = append(slugs, slug)
		}

		if len(evidence) < evidenceCap && !seenURL[m[0]] {
			seenURL[m[0]] = true
			evidence = append(evidence, m[0])
		}
	}
	return slugs, evidence
}

// detectTheme turns the first theme slug in the page into a display name:
// "twenty-twenty_four" becomes "Twenty Twenty Four".
func detectTheme(html string) string {
	m := themePath.FindStringSubmatch(html)
	if m == nil {
		return ""
	}

	name := strings.NewReplacer("-", " ", "_", " ").Replace(m[1])
	name = strings.Join(strings.Fields(name), " ")
	return cases.Title(language.English).String(name)
}
