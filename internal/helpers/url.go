// Package helpers holds small string and URL utilities shared by the lead pipeline.
package helpers

import (
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"
)

var trackingQueryParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"igshid":       {},
	"trk":          {},
	"trackingid":   {},
	"lipi":         {},
	"ref":          {},
	"share_id":     {},
}

// CanonicalURL normalises a URL for dedup. Scheme and host are lowercased, "www." and
// default ports are dropped, the fragment, tracking parameters and any trailing slash
// are removed and remaining parameters are sorted. A missing scheme defaults to https.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	parsed, err := parseLoose(raw)
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", errors.New("url missing host")
	}
	host = strings.TrimPrefix(host, "www.")
	if port := parsed.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}

	p := path.Clean("/" + parsed.Path)
	if p == "/" {
		p = ""
	}

	query := parsed.Query()
	keys := make([]string, 0, len(query))
	for key := range query {
		if _, drop := trackingQueryParams[strings.ToLower(key)]; drop {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var q strings.Builder
	for _, key := range keys {
		values := append([]string(nil), query[key]...)
		sort.Strings(values)
		for _, v := range values {
			if q.Len() > 0 {
				q.WriteByte('&')
			}
			q.WriteString(url.QueryEscape(key))
			if v != "" {
				q.WriteByte('=')
				q.WriteString(url.QueryEscape(v))
			}
		}
	}

	out := url.URL{Scheme: scheme, Host: host, Path: p, RawQuery: q.String()}
	return out.String(), nil
}

// ProfileKey reduces a LinkedIn member URL to "linkedin.com/in/<slug>" so that locale
// subdomains, query strings and trailing paths collapse onto one key. ok is false for
// anything that is not a member profile.
func ProfileKey(raw string) (string, bool) {
	canonical, err := CanonicalURL(raw)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(canonical)
	if err != nil || !strings.HasSuffix(u.Host, "linkedin.com") {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "in" || parts[1] == "" {
		return "", false
	}
	slug, err := url.PathUnescape(parts[1])
	if err != nil {
		slug = parts[1]
	}
	return "linkedin.com/in/" + strings.ToLower(slug), true
}

// URLKey is CanonicalURL for use as a map key; unparsable input keys on its trimmed form.
func URLKey(raw string) string {
	if c, err := CanonicalURL(raw); err == nil {
		return c
	}
	return strings.TrimSpace(raw)
}

func parseLoose(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		if strings.HasPrefix(raw, "//") {
			return url.Parse("https:" + raw)
		}
		return url.Parse("https://" + raw)
	}
	return parsed, nil
}
