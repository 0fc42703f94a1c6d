package detection

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/invisible-tech/threatcore/internal/types"
)

const (
	maxDomains       = 5
	maxHashesPerType = 3
	maxURLs          = 3
)

var (
	ipPattern     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	domainPattern = regexp.MustCompile(`\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}\b`)
	urlPattern    = regexp.MustCompile(`(?i)https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

	hashPatterns = []struct {
		kind    string
		pattern *regexp.Regexp
	}{
		{"md5", regexp.MustCompile(`\b[a-f0-9]{32}\b`)},
		{"sha1", regexp.MustCompile(`\b[a-f0-9]{40}\b`)},
		{"sha256", regexp.MustCompile(`\b[a-f0-9]{64}\b`)},
	}

	commonTLDs = []string{".com", ".org", ".net", ".gov"}
)

// ExtractIOCs pulls indicators of compromise from the event's title,
// description and IP fields. Values are de-duplicated per type in order of
// first appearance before the per-type caps apply.
func ExtractIOCs(ev *types.Event) []types.IOC {
	raw := ev.Title + " " + ev.Description
	text := strings.ToLower(raw)
	iocs := []types.IOC{}

	ips := newOrderedSet()
	for _, candidate := range ipPattern.FindAllString(text, -1) {
		if reportableIP(candidate) {
			ips.add(candidate)
		}
	}
	for _, candidate := range []string{ev.SourceIP, ev.DestinationIP} {
		if reportableIP(candidate) {
			ips.add(candidate)
		}
	}
	iocs = ips.appendTo(iocs, "ip", -1)

	domains := newOrderedSet()
	for _, d := range domainPattern.FindAllString(text, -1) {
		if !hasCommonTLD(d) {
			domains.add(d)
		}
	}
	iocs = domains.appendTo(iocs, "domain", maxDomains)

	for _, hp := range hashPatterns {
		hashes := newOrderedSet()
		for _, h := range hp.pattern.FindAllString(text, -1) {
			hashes.add(h)
		}
		iocs = hashes.appendTo(iocs, hp.kind, maxHashesPerType)
	}

	urls := newOrderedSet()
	for _, u := range urlPattern.FindAllString(raw, -1) {
		urls.add(u)
	}
	return urls.appendTo(iocs, "url", maxURLs)
}

// reportableIP accepts valid addresses that are neither loopback nor
// unspecified.
func reportableIP(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return !addr.IsLoopback() && !addr.IsUnspecified()
}

func hasCommonTLD(domain string) bool {
	for _, tld := range commonTLDs {
		if strings.HasSuffix(domain, tld) {
			return true
		}
	}
	return false
}

type orderedSet struct {
	seen   map[string]bool
	values []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}}
}

func (s *orderedSet) add(v string) {
	if !s.seen[v] {
		s.seen[v] = true
		s.values = append(s.values, v)
	}
}

// appendTo adds up to limit values (all when limit < 0) as IOCs of kind.
func (s *orderedSet) appendTo(iocs []types.IOC, kind string, limit int) []types.IOC {
	for i, v := range s.values {
		if limit >= 0 && i >= limit {
			break
		}
		iocs = append(iocs, types.IOC{Type: kind, Value: v})
	}
	return iocs
}
