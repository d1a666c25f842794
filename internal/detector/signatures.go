package detector

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// minSignatures is how many signatures, each backed by a different element,
// a homepage must show before it is classified as WordPress.
const minSignatures = 2

// Signature is one piece of WordPress evidence tested against a single
// element.
type Signature struct {
	Name  string
	match func(s *goquery.Selection) bool
}

// attrPattern matches when any attribute value of the element matches expr.
func attrPattern(name, expr string) Signature {
	re := regexp.MustCompile(expr)
	return Signature{
		Name: name,
		match: func(s *goquery.Selection) bool {
			for _, a := range s.Nodes[0].Attr {
				if re.MatchString(a.Val) {
					return true
				}
			}
			return false
		},
	}
}

// scriptPattern matches inline script bodies.
func scriptPattern(name, expr string) Signature {
	re := regexp.MustCompile(expr)
	return Signature{
		Name: name,
		match: func(s *goquery.Selection) bool {
			return goquery.NodeName(s) == "script" && re.MatchString(s.Text())
		},
	}
}

func anyOf(name string, sigs ...Signature) Signature {
	return Signature{
		Name: name,
		match: func(s *goquery.Selection) bool {
			for _, sig := range sigs {
				if sig.match(s) {
					return true
				}
			}
			return false
		},
	}
}

func isWordPressGenerator(s *goquery.Selection) bool {
	if goquery.NodeName(s) != "meta" || !strings.EqualFold(s.AttrOr("name", ""), "generator") {
		return false
	}
	content := strings.ToLower(strings.TrimSpace(s.AttrOr("content", "")))
	return strings.HasPrefix(content, "wordpress")
}

func isRESTDiscoveryLink(s *goquery.Selection) bool {
	return goquery.NodeName(s) == "link" && s.AttrOr("rel", "") == "https://api.w.org/"
}

func hasBlockClass(s *goquery.Selection) bool {
	return strings.Contains(s.AttrOr("class", ""), "wp-block-")
}

// Signatures is the fixed evidence table, kept apart from fetching so it can
// be exercised on static HTML. Path signatures also look inside inline
// scripts, where WordPress writes JSON-escaped URLs.
var Signatures = []Signature{
	anyOf("wp-content",
		attrPattern("", `/wp-content/`),
		scriptPattern("", `(/|\\/)wp-content(/|\\/)`)),
	anyOf("wp-includes",
		attrPattern("", `/wp-includes/`),
		scriptPattern("", `(/|\\/)wp-includes(/|\\/)`)),
	anyOf("wp-json",
		attrPattern("", `/wp-json(/|$)`),
		Signature{match: isRESTDiscoveryLink}),
	scriptPattern("wp-emoji", `\b_wpemojiSettings\b`),
	{Name: "generator", match: isWordPressGenerator},
	{Name: "block-classes", match: hasBlockClass},
}

// Evidence is the outcome of scanning a page against Signatures.
type Evidence struct {
	// Names lists every signature seen, in table order.
	Names []string
	// Independent is the largest number of those signatures that can each
	// be credited to a different element. One tag matching two signatures
	// counts once.
	Independent int
}

// MatchSignatures scans every element of doc.
func MatchSignatures(doc *goquery.Document) Evidence {
	if doc == nil {
		return Evidence{}
	}

	// Keeping len(Signatures) elements per signature is enough to find a
	// full assignment when one exists.
	sources := make([][]*html.Node, len(Signatures))
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for i, sig := range Signatures {
			if len(sources[i]) < len(Signatures) && sig.match(s) {
				sources[i] = append(sources[i], s.Nodes[0])
			}
		}
	})

	var ev Evidence
	var matched [][]*html.Node
	for i, nodes := range sources {
		if len(nodes) > 0 {
			ev.Names = append(ev.Names, Signatures[i].Name)
			matched = append(matched, nodes)
		}
	}
	ev.Independent = distinctSources(matched)
	return ev
}

// distinctSources returns the size of a maximum matching between signatures
// and the elements that produced them.
func distinctSources(sources [][]*html.Node) int {
	owner := make(map[*html.Node]int)

	var assign func(i int, seen map[*html.Node]bool) bool
	assign = func(i int, seen map[*html.Node]bool) bool {
		for _, n := range sources[i] {
			if seen[n] {
				continue
			}
			seen[n] = true
			j, taken := owner[n]
			if !taken || assign(j, seen) {
				owner[n] = i
				return true
			}
		}
		return false
	}

	count := 0
	for i := range sources {
		if assign(i, make(map[*html.Node]bool)) {
			count++
		}
	}
	return count
}

var generatorVersion = regexp.MustCompile(`(?i)^wordpress\s+([0-9][0-9a-z.\-]*)`)

// wordPressVersion reads the version from a WordPress generator meta tag.
func wordPressVersion(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	var version string
	doc.Find(`meta[name="generator"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		content, _ := s.Attr("content")
		if m := generatorVersion.FindStringSubmatch(strings.TrimSpace(content)); m != nil {
			version = m[1]
			return false
		}
		return true
	})
	return version
}
