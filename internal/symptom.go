package internal

import (
	"regexp"
	"strconv"
)

var (
	signatureWordRe = regexp.MustCompile(`(?i)\bsignatures?\b`)
	thinkingWordRe  = regexp.MustCompile(`(?i)\b(thinking|reasoning|redacted_thinking)\b`)
	rejectionRe     = regexp.MustCompile(`(?i)(invalid|not valid|rejected|verification failed|does not match|mismatch)`)
	contentRefRe    = regexp.MustCompile(`messages\.(\d+)\.content\.(\d+)`)
)

// ContentRef is a request-relative pointer taken from a provider error,
// written as messages.<N>.content.<M>
type ContentRef struct {
	Message int
	Content int
}

// IsSignatureSymptom reports whether an error text describes a rejected
// signature on a thinking/reasoning block. All three ingredients must be
// present somewhere in the text.
func IsSignatureSymptom(text string) bool {
	if text == "" {
		return false
	}
	return signatureWordRe.MatchString(text) &&
		thinkingWordRe.MatchString(text) &&
		rejectionRe.MatchString(text)
}

// ParseContentRefs extracts every distinct content reference in order of
// appearance
func ParseContentRefs(text string) []ContentRef {
	matches := contentRefRe.FindAllStringSubmatch(text, -1)
	refs := make([]ContentRef, 0, len(matches))
	seen := make(map[ContentRef]bool, len(matches))
	for _, m := range matches {
		n, errN := strconv.Atoi(m[1])
		c, errC := strconv.Atoi(m[2])
		if errN != nil || errC != nil {
			continue
		}
		ref := ContentRef{Message: n, Content: c}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}
