package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// stripMatrix removes ";name=value" matrix parameters from every segment.
func stripMatrix(path string) string {
	if !strings.Contains(path, ";") {
		return path
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if idx := strings.IndexByte(p, ';'); idx >= 0 {
			parts[i] = p[:idx]
		}
	}
	return strings.Join(parts, "/")
}

// matrixParams collects matrix parameters from all path segments.
func matrixParams(path string) url.Values {
	out := url.Values{}
	for _, seg := range strings.Split(path, "/") {
		pairs := strings.Split(seg, ";")
		for _, kv := range pairs[1:] {
			k, v, _ := strings.Cut(kv, "=")
			if k == "" {
				continue
			}
			if uv, err := url.PathUnescape(v); err == nil {
				v = uv
			}
			out.Add(k, v)
		}
	}
	return out
}

// scopeParams returns zoneId and contextId, preferring matrix parameters
// over the query string.
func scopeParams(r *http.Request) (zoneID, contextID string) {
	matrix := matrixParams(r.URL.EscapedPath())
	query := r.URL.Query()
	pick := func(name string) string {
		if v := matrix.Get(name); v != "" {
			return v
		}
		return query.Get(name)
	}
	return pick("zoneId"), pick("contextId")
}

// segments splits the path below prefix into its non-empty parts.
func segments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(stripMatrix(path), prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// page is a 1-based navigation page.
type page struct {
	Number int
	Size   int
}

var errBadPaging = errors.New("navigationPage and navigationPageSize must be positive integers")

// navigation reads the paging headers, falling back to the query string.
func navigation(r *http.Request, defaultSize int) (page, error) {
	get := func(name string) string {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
		return strings.TrimSpace(r.URL.Query().Get(name))
	}
	p := page{Number: 1, Size: defaultSize}
	if raw := get("navigationPage"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page{}, errBadPaging
		}
		p.Number = n
	}
	if raw := get("navigationPageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page{}, errBadPaging
		}
		p.Size = min(n, 1000)
	}
	return p, nil
}

// bounds returns the slice window for total items.
// Page numbers past the end yield an empty window without overflowing.
func (p page) bounds(total int) (from, to int) {
	if p.Number-1 > total/p.Size {
		return total, total
	}
	from = min((p.Number-1)*p.Size, total)
	to = min(from+p.Size, total)
	return from, to
}

func (p page) setHeaders(w http.ResponseWriter, total int) {
	w.Header().Set("navigationPage", strconv.Itoa(p.Number))
	w.Header().Set("navigationPageSize", strconv.Itoa(p.Size))
	w.Header().Set("navigationCount", strconv.Itoa(total))
}
