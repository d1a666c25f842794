package detector

import (
	"bufio"
	"strings"

	"github.com/temoto/robotstxt"
)

// robotsDisallowsAll reports whether the "User-agent: *" group of a
// robots.txt body shuts out the whole site. Unparseable files allow
// crawling.
func robotsDisallowsAll(body string) bool {
	robots, err := robotstxt.FromString(body)
	if err != nil {
		return false
	}
	if !robots.FindGroup("*").Test("/") {
		return true
	}
	return starGroupHasEmptyDisallow(body)
}

// starGroupHasEmptyDisallow finds a bare "Disallow:" line in a group that
// names "*". The parser drops such lines, but this crawler reads them as
// disallow-root.
func starGroupHasEmptyDisallow(body string) bool {
	var inStar, readingAgents bool

	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch strings.ToLower(strings.TrimSpace(field)) {
		case "user-agent":
			if !readingAgents {
				inStar = false
				readingAgents = true
			}
			inStar = inStar || strings.TrimSpace(value) == "*"
		case "disallow":
			readingAgents = false
			if inStar && strings.TrimSpace(value) == "" {
				return true
			}
		default:
			readingAgents = false
		}
	}
	return false
}
