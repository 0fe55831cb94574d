package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xraph/batchflow"
)

// span is a closed inclusive range of allowed values.
type span struct {
	lo, hi int
}

// field is a parsed interval list such as "1-5,8". A field with any set
// matches every value.
type field struct {
	any   bool
	spans []span
}

var anyField = field{any: true}

// parseField parses an interval list, clamping every bound into
// [minVal, maxVal]. An empty string or "*" yields a field that matches
// every value.
func parseField(name, s string, minVal, maxVal int) (field, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return anyField, nil
	}

	var f field
	for _, tok := range strings.Split(s, ",") {
		sp, err := parseSpan(tok, minVal, maxVal)
		if err != nil {
			return field{}, fmt.Errorf("%w: %s %q: %v", batchflow.ErrInvalidSchedule, name, s, err)
		}
		f.spans = append(f.spans, sp)
	}
	f.normalize()
	return f, nil
}

func parseSpan(tok string, minVal, maxVal int) (span, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return span{}, fmt.Errorf("empty interval")
	}

	loStr, hiStr, isRange := strings.Cut(tok, "-")
	lo, err := parseBound(loStr)
	if err != nil {
		return span{}, err
	}
	hi := lo
	if isRange {
		if hi, err = parseBound(hiStr); err != nil {
			return span{}, err
		}
	}
	if lo > hi {
		return span{}, fmt.Errorf("descending interval %q", tok)
	}

	return span{lo: clamp(lo, minVal, maxVal), hi: clamp(hi, minVal, maxVal)}, nil
}

func parseBound(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing bound")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid bound %q", s)
		}
	}
	return strconv.Atoi(s)
}

func clamp(v, minVal, maxVal int) int {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

// normalize sorts spans and merges overlapping or adjacent ones.
func (f *field) normalize() {
	if len(f.spans) < 2 {
		return
	}
	sort.Slice(f.spans, func(i, j int) bool { return f.spans[i].lo < f.spans[j].lo })
	merged := f.spans[:1]
	for _, sp := range f.spans[1:] {
		last := &merged[len(merged)-1]
		if sp.lo <= last.hi+1 {
			if sp.hi > last.hi {
				last.hi = sp.hi
			}
			continue
		}
		merged = append(merged, sp)
	}
	f.spans = merged
}

func (f field) contains(v int) bool {
	if f.any {
		return true
	}
	for _, sp := range f.spans {
		if v >= sp.lo && v <= sp.hi {
			return true
		}
	}
	return false
}

// next returns the smallest allowed value >= v that does not exceed
// maxVal.
func (f field) next(v, maxVal int) (int, bool) {
	if v > maxVal {
		return 0, false
	}
	if f.any {
		return v, true
	}
	for _, sp := range f.spans {
		if v > sp.hi {
			continue
		}
		if v < sp.lo {
			v = sp.lo
		}
		if v > maxVal {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

func (f field) String() string {
	if f.any {
		return "*"
	}
	parts := make([]string, 0, len(f.spans))
	for _, sp := range f.spans {
		if sp.lo == sp.hi {
			parts = append(parts, strconv.Itoa(sp.lo))
			continue
		}
		parts = append(parts, strconv.Itoa(sp.lo)+"-"+strconv.Itoa(sp.hi))
	}
	return strings.Join(parts, ",")
}

// parseDays parses a day-of-month list that may contain the LAST token.
func parseDays(s string) (field, bool, error) {
	if t := strings.TrimSpace(s); t == "" || t == "*" {
		return anyField, false, nil
	}

	var (
		rest []string
		last bool
	)
	for _, tok := range strings.Split(s, ",") {
		if strings.TrimSpace(tok) == "" {
			return field{}, false, fmt.Errorf("%w: days %q: empty interval", batchflow.ErrInvalidSchedule, s)
		}
		if strings.EqualFold(strings.TrimSpace(tok), lastToken) {
			last = true
			continue
		}
		rest = append(rest, tok)
	}
	if !last {
		f, err := parseField("days", s, 1, 31)
		return f, false, err
	}
	if len(rest) == 0 {
		return field{}, true, nil
	}
	f, err := parseField("days", strings.Join(rest, ","), 1, 31)
	if err != nil {
		return field{}, false, err
	}
	if f.any {
		// "*,LAST" is every day anyway.
		return anyField, false, nil
	}
	return f, true, nil
}
