package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRobotsDisallowsAll(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"root disallow", "User-agent: *\nDisallow: /\n", true},
		{"empty disallow", "User-agent: *\nDisallow:\n", true},
		{"wildcard path", "user-agent: *\ndisallow: /*\n", true},
		{"partial path", "User-agent: *\nDisallow: /wp-admin/\nAllow: /wp-admin/admin-ajax.php\n", false},
		{"other agent only", "User-agent: Googlebot\nDisallow: /\n", false},
		{"shared group", "User-agent: Googlebot\nUser-agent: *\nDisallow: /\n", true},
		{
			name: "star group ends at next agent",
			body: "User-agent: *\nDisallow: /tmp/\n\nUser-agent: BadBot\nDisallow: /\n",
			want: false,
		},
		{"comment", "User-agent: * # everyone\nDisallow: / # all\n", true},
		{"empty file", "", false},
		{"crlf", "User-agent: *\r\nDisallow: /\r\n", true},
		{"allow root wins", "User-agent: *\nAllow: /\nDisallow: /private/\n", false},
		{"star blocked despite named allow", "User-agent: *\nDisallow: /\n\nUser-agent: Googlebot\nAllow: /\n", true},
		{"empty disallow in other group", "User-agent: BadBot\nDisallow:\n\nUser-agent: *\nDisallow: /tmp/\n", false},
		{"upper case directives", "USER-AGENT: *\nDISALLOW: /\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, robotsDisallowsAll(tt.body))
		})
	}
}
