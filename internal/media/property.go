package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PropertyFunc resolves a named property of a Media to a string, from
// expressions like "id|path|md5|suffix|exif:KEY|ffmeta:KEY" optionally
// chained with string/list/date/math modifiers.
type PropertyFunc func(m *Media) string

// ExifReader abstracts the EXIF reader a caller supplies; the scanner
// provides a concrete implementation.
type ExifReader interface {
	ExifTag(path, key string) (string, error)
}

// exifCache memoizes EXIF lookups keyed by (path, key). It is an explicit
// instance rather than a package-level singleton: each PropertyResolver
// builds and owns one, so lookups are shared among the PropertyFuncs one
// resolver compiles and not between resolvers.
type exifCache struct {
	mu    sync.Mutex
	cache map[string]string
}

func newExifCache() *exifCache {
	return &exifCache{cache: make(map[string]string)}
}

func (c *exifCache) get(reader ExifReader, path, key string) string {
	cacheKey := path + "\x00" + key
	c.mu.Lock()
	if v, ok := c.cache[cacheKey]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v, err := reader.ExifTag(path, key)
	if err != nil {
		v = ""
	}
	c.mu.Lock()
	c.cache[cacheKey] = v
	c.mu.Unlock()
	return v
}

var splitArgRe = regexp.MustCompile(`\(([^)]*)\)`)

// PropertyResolver builds PropertyFuncs from expressions like
// "exif:DateTimeOriginal|year" or "path|upper|pad(20)".
type PropertyResolver struct {
	exif  *exifCache
	Reader ExifReader
}

// NewPropertyResolver constructs a resolver with its own EXIF cache.
func NewPropertyResolver(reader ExifReader) *PropertyResolver {
	return &PropertyResolver{exif: newExifCache(), Reader: reader}
}

// Compile parses expr into a PropertyFunc. Unknown base properties or
// modifiers resolve to the empty string rather than erroring, matching the
// source's tolerant expression language.
func (r *PropertyResolver) Compile(expr string) PropertyFunc {
	parts := strings.Split(expr, "|")
	if len(parts) == 0 {
		return func(*Media) string { return "" }
	}
	base := parts[0]
	modifiers := parts[1:]

	return func(m *Media) string {
		v := r.resolveBase(base, m)
		for _, mod := range modifiers {
			v = applyModifier(mod, v)
		}
		return v
	}
}

func (r *PropertyResolver) resolveBase(base string, m *Media) string {
	switch {
	case base == "id":
		return strconv.FormatUint(uint64(m.ID), 10)
	case base == "path":
		return m.Path
	case base == "md5":
		return m.ContentDigest
	case base == "suffix":
		return Suffix(m.Path)
	case base == "name":
		return Name(m.Path)
	case strings.HasPrefix(base, "exif:"):
		if r.Reader == nil {
			return ""
		}
		return r.exif.get(r.Reader, m.Path, strings.TrimPrefix(base, "exif:"))
	case strings.HasPrefix(base, "ffmeta:"):
		if r.Reader == nil {
			return ""
		}
		return r.exif.get(r.Reader, m.Path, base) // ffmeta keys share the same cache namespace
	case strings.HasPrefix(base, "attr:"):
		if m.Attributes == nil {
			return ""
		}
		return m.Attributes[strings.TrimPrefix(base, "attr:")]
	default:
		return ""
	}
}

func applyModifier(mod, v string) string {
	name := mod
	arg := ""
	if loc := splitArgRe.FindStringSubmatchIndex(mod); loc != nil {
		name = mod[:loc[0]]
		arg = mod[loc[2]:loc[3]]
	}
	switch name {
	case "upper":
		return strings.ToUpper(v)
	case "lower":
		return strings.ToLower(v)
	case "title":
		return strings.Title(strings.ToLower(v))
	case "trim":
		return strings.TrimSpace(v)
	case "mid":
		fields := strings.Split(arg, ",")
		if len(fields) != 2 {
			return v
		}
		start, err1 := strconv.Atoi(fields[0])
		length, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil || start < 0 || start >= len(v) {
			return v
		}
		end := start + length
		if end > len(v) {
			end = len(v)
		}
		return v[start:end]
	case "pad":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= len(v) {
			return v
		}
		return v + strings.Repeat(" ", n-len(v))
	case "split":
		re, err := regexp.Compile(arg)
		if err != nil {
			return v
		}
		parts := re.Split(v, -1)
		if len(parts) == 0 {
			return ""
		}
		return parts[0]
	case "join":
		return v // join only makes sense on list-valued intermediates; single-value passthrough
	case "year":
		if t, err := parseFlexibleTime(v); err == nil {
			return strconv.Itoa(t.Year())
		}
		return v
	case "month":
		if t, err := parseFlexibleTime(v); err == nil {
			return fmt.Sprintf("%02d", int(t.Month()))
		}
		return v
	case "add":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return v
		}
		num, err := strconv.Atoi(v)
		if err != nil {
			return v
		}
		return strconv.Itoa(num + n)
	default:
		return v
	}
}

var timeLayouts = []string{
	"2006:01:02 15:04:05", // EXIF DateTimeOriginal layout
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseFlexibleTime(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
