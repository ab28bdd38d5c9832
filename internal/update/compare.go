package update

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// isNewer reports whether latest denotes a newer release than current.
// Well-formed semantic versions are compared as such; anything else falls
// back to a segment-wise numeric comparison that tolerates suffixes like
// "1.2.3-beta+build".
func isNewer(latest, current string) bool {
	lv, cv := canonical(latest), canonical(current)
	if lv != "" && cv != "" {
		return semver.Compare(lv, cv) > 0
	}
	return compareNumeric(latest, current) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

func compareNumeric(a, b string) int {
	ak, bk := versionKey(a), versionKey(b)
	for len(ak) < len(bk) {
		ak = append(ak, 0)
	}
	for len(bk) < len(ak) {
		bk = append(bk, 0)
	}
	for i := range ak {
		if ak[i] != bk[i] {
			if ak[i] > bk[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

// versionKey extracts the leading number of every dash, dot, or plus
// separated segment; a segment with no leading digits counts as zero.
func versionKey(v string) []int {
	segments := strings.FieldsFunc(strings.TrimSpace(v), func(r rune) bool {
		return r == '.' || r == '-' || r == '+'
	})
	key := make([]int, 0, len(segments))
	for _, seg := range segments {
		end := 0
		for end < len(seg) && seg[end] >= '0' && seg[end] <= '9' {
			end++
		}
		n, _ := strconv.Atoi(seg[:end])
		key = append(key, n)
	}
	return key
}
