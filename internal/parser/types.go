package parser

// Link is an anchor found in a document.
type Link struct {
	URL  string
	Text string
	Rel  string
}

// NoFollow reports whether the anchor carries rel=nofollow.
func (l Link) NoFollow() bool {
	for _, token := range splitFields(l.Rel) {
		if token == "nofollow" {
			return true
		}
	}
	return false
}

// ParseResult contains what the dive needs from one document.
type ParseResult struct {
	Title  string
	Links  []Link
	Assets []string
	Meta   map[string]string
}
