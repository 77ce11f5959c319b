package metadata

import (
	"sort"
	"strings"
	"unicode"
)

// Qualifier ranks below a plain release. Unknown qualifiers sort after releases.
var qualifierRank = map[string]int{
	"alpha":     0,
	"a":         0,
	"beta":      1,
	"b":         1,
	"milestone": 2,
	"m":         2,
	"rc":        3,
	"cr":        3,
	"snapshot":  4,
}

const (
	classQualifier = iota
	classRelease
	classUnknown
	classNumber
)

type versionToken struct {
	class int
	text  string
	rank  int
}

func tokenize(version string) []versionToken {
	var tokens []versionToken
	var current strings.Builder
	var digits bool

	flush := func() {
		if current.Len() == 0 {
			return
		}
		tokens = append(tokens, newToken(current.String(), digits))
		current.Reset()
	}

	for _, r := range strings.ToLower(version) {
		switch {
		case r == '.' || r == '-' || r == '_' || r == '+':
			flush()
		case unicode.IsDigit(r):
			if current.Len() > 0 && !digits {
				flush()
			}
			digits = true
			current.WriteRune(r)
		default:
			if current.Len() > 0 && digits {
				flush()
			}
			digits = false
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func newToken(text string, numeric bool) versionToken {
	if numeric {
		trimmed := strings.TrimLeft(text, "0")
		return versionToken{class: classNumber, text: trimmed}
	}
	switch text {
	case "ga", "final", "release":
		return versionToken{class: classRelease}
	}
	if rank, ok := qualifierRank[text]; ok {
		return versionToken{class: classQualifier, text: text, rank: rank}
	}
	return versionToken{class: classUnknown, text: text}
}

func compareTokens(a, b versionToken) int {
	if a.class != b.class {
		return compareInts(a.class, b.class)
	}
	switch a.class {
	case classNumber:
		// Leading zeros are trimmed, so a longer number is a larger one
		if len(a.text) != len(b.text) {
			return compareInts(len(a.text), len(b.text))
		}
		return strings.Compare(a.text, b.text)
	case classQualifier:
		return compareInts(a.rank, b.rank)
	case classUnknown:
		return strings.Compare(a.text, b.text)
	}
	return 0
}

// padding stands in for a missing token: it equals a zero and a plain release.
func compareWithPadding(token versionToken) int {
	switch token.class {
	case classNumber:
		if token.text == "" {
			return 0
		}
		return 1
	case classRelease:
		return 0
	default:
		return compareInts(token.class, classRelease)
	}
}

// CompareVersions orders versions the way Maven users expect: numeric parts
// compare numerically, 1.0 equals 1.0.0 and pre-release qualifiers such as
// -rc1 or -SNAPSHOT sort before the release.
func CompareVersions(a, b string) int {
	ta, tb := tokenize(a), tokenize(b)
	for i := 0; i < len(ta) || i < len(tb); i++ {
		var c int
		switch {
		case i >= len(ta):
			c = -compareWithPadding(tb[i])
		case i >= len(tb):
			c = compareWithPadding(ta[i])
		default:
			c = compareTokens(ta[i], tb[i])
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// SortVersions sorts versions in ascending order.
func SortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) < 0
	})
}

// IsSnapshot reports whether version is a development snapshot.
func IsSnapshot(version string) bool {
	return strings.HasSuffix(strings.ToUpper(version), "-SNAPSHOT")
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
