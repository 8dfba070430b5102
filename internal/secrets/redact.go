package secrets

import (
	"strings"
	"unicode/utf8"
)

// MaskPrefix starts every masked value. A submitted value carrying this
// prefix means "keep what is stored".
const MaskPrefix = "••••••••"

const visibleSuffix = 4

// Mask returns the display form of a secret. Values longer than eight
// characters keep their last four characters visible. The result never equals
// the input.
func Mask(raw string) string {
	candidates := []string{MaskPrefix, MaskPrefix + "•"}
	if utf8.RuneCountInString(raw) > 2*visibleSuffix {
		runes := []rune(raw)
		candidates = append([]string{MaskPrefix + string(runes[len(runes)-visibleSuffix:])}, candidates...)
	}
	for _, c := range candidates {
		if c != raw {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// IsMasked reports whether a submitted value is a masking sentinel.
func IsMasked(value string) bool {
	return strings.HasPrefix(value, MaskPrefix)
}

// RedactValues returns a copy of values with every field for which isSecret
// returns true replaced by its mask. Empty values stay empty.
func RedactValues(values map[string]string, isSecret func(field string) bool) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if v != "" && isSecret(k) {
			out[k] = Mask(v)
			continue
		}
		out[k] = v
	}
	return out
}

// Scrub replaces every occurrence of the given secret values inside text with
// their masks. Values shorter than four characters are left alone since they
// would match arbitrary text.
func Scrub(text string, secretValues ...string) string {
	for _, s := range secretValues {
		if len(s) < visibleSuffix {
			continue
		}
		text = strings.ReplaceAll(text, s, Mask(s))
	}
	return text
}
