package pagination

import "strings"

// Common Link header relations.
const (
	RelNext  = "next"
	RelPrev  = "prev"
	RelFirst = "first"
	RelLast  = "last"
)

// ParseLinkHeader parses an RFC 5988 Link header value into a relation -> URL map.
//
//	<https://api.github.com/repositories/1/issues?page=2>; rel="next", <...?page=5>; rel="last"
//
// Entries without an angle-bracketed URL or a rel parameter are skipped. Relation
// names are matched case-sensitively and the last entry for a relation wins.
// URLs containing commas are not supported.
func ParseLinkHeader(value string) map[string]string {
	links := make(map[string]string)

	for _, entry := range strings.Split(value, ",") {
		sections := strings.Split(strings.TrimSpace(entry), ";")
		if len(sections) < 2 {
			continue
		}

		target := strings.TrimSpace(sections[0])
		if len(target) < 2 || !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		target = target[1 : len(target)-1]

		var rel string
		for _, param := range sections[1:] {
			param = strings.TrimSpace(param)
			if len(param) >= len(`rel=""`) && strings.HasPrefix(param, `rel="`) && strings.HasSuffix(param, `"`) {
				rel = param[len(`rel="`) : len(param)-1]
			}
		}
		if rel == "" {
			continue
		}
		links[rel] = target
	}

	return links
}
