package links

import (
	"regexp"
	"strings"
)

// Shopee production domains plus the shp.ee shortener. The scheme is matched
// case-sensitively; uppercased schemes are not accepted links.
var shopeeLinkPattern = regexp.MustCompile(`https?://(?:shopee\.vn|shp\.ee|vn\.shp\.ee)/[^\s<>"]+`)

// Extract returns every accepted e-commerce link in message order. Callers
// that enforce a single-link-per-message policy take the first element; the
// full set is still returned for logging.
func Extract(text string) []string {
	matches := shopeeLinkPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimRight(m, ".,;:!?)"))
	}
	return out
}
