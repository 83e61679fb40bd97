/*
Copyright (c) 2013, Richard Johnson
All rights reserved.

Redistribution and use in source and binary forms, with or without
modification, are permitted provided that the following conditions are met:
 * Redistributions of source code must retain the above copyright notice, this
   list of conditions and the following disclaimer.
 * Redistributions in binary form must reproduce the above copyright notice,
   this list of conditions and the following disclaimer in the documentation
   and/or other materials provided with the distribution.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND
ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED
WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.
*/

package safebrowsing

import (
	"fmt"
	"strconv"
	"strings"
)

// Canonicalize normalizes url into the single canonical "scheme://host/path"
// form used as the basis for candidate generation. Malformed escapes are
// never fatal: they are defensively re-escaped rather than rejected.
func Canonicalize(url string) string {
	url = stripControlAndFragment(url)
	url = ensureScheme(url)

	scheme, rest := splitScheme(url)
	host, pathAndQuery := splitHostPath(rest)
	path, query, hasQuery := splitPathQuery(pathAndQuery)

	host = canonicalizeHost(host)
	path = canonicalizePath(path)

	out := scheme + "://" + host + path
	if hasQuery {
		out += "?" + query
	}
	return out
}

// stripControlAndFragment trims surrounding whitespace, removes tab/CR/LF
// bytes appearing before the query string, and drops everything from the
// first literal '#' on.
func stripControlAndFragment(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.IndexByte(url, '#'); i >= 0 {
		url = url[:i]
	}
	queryStart := len(url)
	if i := strings.IndexByte(url, '?'); i >= 0 {
		queryStart = i
	}
	var b strings.Builder
	b.Grow(len(url))
	for i := 0; i < len(url); i++ {
		switch url[i] {
		case '\t', '\r', '\n':
			if i >= queryStart {
				b.WriteByte(url[i])
			}
			continue
		default:
			b.WriteByte(url[i])
		}
	}
	return b.String()
}

var schemePrefixes = []string{"http://", "https://"}

func ensureScheme(url string) string {
	lower := strings.ToLower(url)
	for _, p := range schemePrefixes {
		if strings.HasPrefix(lower, p) {
			return p + url[len(p):]
		}
	}
	return "http://" + url
}

func splitScheme(url string) (scheme, rest string) {
	i := strings.Index(url, "://")
	if i < 0 {
		return "http", url
	}
	return strings.ToLower(url[:i]), url[i+3:]
}

// splitHostPath separates the host (authority) from the path+query,
// treating the first '/' after the scheme as the boundary. A URL with no
// path at all yields a "/" path so the host-only case always renders with
// a trailing slash.
func splitHostPath(rest string) (host, pathAndQuery string) {
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return rest, "/"
	}
	return rest[:i], rest[i:]
}

func splitPathQuery(pathAndQuery string) (path, query string, hasQuery bool) {
	i := strings.IndexByte(pathAndQuery, '?')
	if i < 0 {
		return pathAndQuery, "", false
	}
	return pathAndQuery[:i], pathAndQuery[i+1:], true
}

func canonicalizeHost(host string) string {
	host = unescapeRepeat(host)
	// Lowercase ASCII letters only: strings.ToLower would turn a byte that
	// is not valid UTF-8 into U+FFFD before it can be %-escaped.
	hb := []byte(host)
	for i, c := range hb {
		if c >= 'A' && c <= 'Z' {
			hb[i] = c + ('a' - 'A')
		}
	}
	host = string(hb)
	if isAllDigits(host) {
		if n, err := strconv.ParseUint(host, 10, 32); err == nil {
			host = fmt.Sprintf("%d.%d.%d.%d", byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		}
	}
	host = collapseDots(host)
	return escapeHostBytes(host)
}

func canonicalizePath(path string) string {
	path = flattenPath(path)
	path = unescapeRepeat(path)
	return escapePathBytes(path)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func collapseDots(host string) string {
	var b strings.Builder
	lastWasDot := false
	for i := 0; i < len(host); i++ {
		if host[i] == '.' {
			if lastWasDot {
				continue
			}
			lastWasDot = true
		} else {
			lastWasDot = false
		}
		b.WriteByte(host[i])
	}
	return strings.Trim(b.String(), ".")
}

// flattenPath collapses repeated slashes and resolves "." and ".." path
// segments, operating only on the path — the query string is left
// untouched even when it contains further slashes.
func flattenPath(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, p)
		}
	}
	return "/" + strings.Join(out, "/")
}

// unescapeRepeat percent-decodes s until a further pass changes nothing.
func unescapeRepeat(s string) string {
	for {
		next := unescapeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func unescapeOnce(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(hexVal(s[i+1])<<4 | hexVal(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// escapePathBytes re-escapes everything unsafe in a path: control bytes,
// high bytes, a stray '%' and a literal '#' (which would otherwise be
// mistaken for a fragment marker downstream). Printable ASCII punctuation
// such as '!', '@', '$', '&', '*', '(', ')', '+', '_', '-', '~', ';' is
// left alone.
func escapePathBytes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= 0x20 || c >= 0x7f || c == '#' || c == '%' {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// escapeHostBytes re-escapes anything outside [a-z0-9%_.\-/:], the host
// character whitelist.
func escapeHostBytes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isHostSafeByte(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isHostSafeByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '%' || c == '_' || c == '.' || c == '-' || c == '/' || c == ':':
		return true
	}
	return false
}

// canonicalParts splits an already-canonical "scheme://host/path[?query]"
// string back into its pieces, for candidate generation.
func canonicalParts(canon string) (scheme, host, path, query string, hasQuery bool) {
	scheme, rest := splitScheme(canon)
	host, pathAndQuery := splitHostPath(rest)
	path, query, hasQuery = splitPathQuery(pathAndQuery)
	return scheme, host, path, query, hasQuery
}

// domainVariants returns host itself plus up to four ancestor hosts formed
// by successively stripping the leftmost label, stopping at two labels.
// When host has more than five labels, ancestors are generated from the
// five-label suffix rather than the whole name.
func domainVariants(host string) []string {
	if isAllDigits(strings.ReplaceAll(host, ".", "")) && strings.Count(host, ".") == 3 {
		// Dotted IPv4: the only variant is the host itself.
		return []string{host}
	}
	labels := strings.Split(host, ".")
	variants := []string{host}

	start := 0
	if len(labels) > 5 {
		start = len(labels) - 5
	}
	sub := labels[start:]
	if start > 0 {
		variants = append(variants, strings.Join(sub, "."))
	}
	count := len(variants) - 1
	for len(sub) > 2 && count < 4 {
		sub = sub[1:]
		variants = append(variants, strings.Join(sub, "."))
		count++
	}
	return variants
}

// pathVariants returns the full path[?query], the full path alone, the
// empty prefix, and up to four directory prefixes of path.
func pathVariants(path, query string, hasQuery bool) []string {
	trimmed := strings.TrimPrefix(path, "/")
	seen := map[string]bool{"": true, trimmed: true}
	if hasQuery {
		seen[trimmed+"?"+query] = true
	}

	if trimmed != "" {
		segments := strings.Split(trimmed, "/")
		prefix := ""
		for i := 0; i < len(segments)-1 && i < 4; i++ {
			prefix += segments[i] + "/"
			seen[prefix] = true
		}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	return out
}

// GenerateTestCandidates enumerates every host-variant/path-variant
// combination of url's canonical form, in "host/path[?query]" shape —
// the same lookup keys the hasher turns into full hashes and prefixes.
func GenerateTestCandidates(url string) []string {
	canon := Canonicalize(url)
	_, host, path, query, hasQuery := canonicalParts(canon)

	hosts := domainVariants(host)
	paths := pathVariants(path, query, hasQuery)

	out := make([]string, 0, len(hosts)*len(paths))
	for _, h := range hosts {
		for _, p := range paths {
			out = append(out, h+"/"+p)
		}
	}
	return out
}

// iterateHostnames returns url's canonical form re-rendered with each
// domain-variant host in turn, keeping the original scheme and path.
func iterateHostnames(url string) []string {
	canon := Canonicalize(url)
	scheme, host, path, query, hasQuery := canonicalParts(canon)

	hosts := domainVariants(host)
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		u := scheme + "://" + h + path
		if hasQuery {
			u += "?" + query
		}
		out = append(out, u)
	}
	return out
}
