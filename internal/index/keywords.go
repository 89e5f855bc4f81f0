package index

import (
	"sort"
	"strings"
)

// MaxKeywords caps a record's keyword set, including after evolution merges.
const MaxKeywords = 32

// initialKeywordCount caps the keywords extracted at record creation.
const initialKeywordCount = 10

var keywordStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "were": true, "been": true, "this": true, "that": true,
	"will": true, "have": true,
}

// ExtractKeywords pulls distinctive lowercase terms out of memory content:
// words longer than three characters, stop words removed, deduplicated,
// sorted, capped.
func ExtractKeywords(content string) []string {
	seen := map[string]bool{}
	var keywords []string

	for _, word := range strings.Fields(strings.ToLower(content)) {
		clean := strings.TrimFunc(word, func(r rune) bool {
			return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
		})
		if len(clean) <= 3 || keywordStopWords[clean] || seen[clean] {
			continue
		}
		seen[clean] = true
		keywords = append(keywords, clean)
	}

	sort.Strings(keywords)
	if len(keywords) > initialKeywordCount {
		keywords = keywords[:initialKeywordCount]
	}
	return keywords
}

// MergeKeywords union-merges additions into base, preserving base order and
// capping the result at MaxKeywords.
func MergeKeywords(base, additions []string) []string {
	seen := map[string]bool{}
	merged := make([]string, 0, len(base)+len(additions))
	for _, kw := range base {
		if !seen[kw] {
			seen[kw] = true
			merged = append(merged, kw)
		}
	}
	for _, kw := range additions {
		if !seen[kw] {
			seen[kw] = true
			merged = append(merged, kw)
		}
	}
	if len(merged) > MaxKeywords {
		merged = merged[:MaxKeywords]
	}
	return merged
}

// SharedKeywords returns the keywords present in both sets, in a's order.
func SharedKeywords(a, b []string) []string {
	inB := map[string]bool{}
	for _, kw := range b {
		inB[kw] = true
	}
	var shared []string
	for _, kw := range a {
		if inB[kw] {
			shared = append(shared, kw)
		}
	}
	return shared
}
