package namemap

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf16"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EmptyToken is the identifier token for an empty input.
const EmptyToken = "00000000"

// DefaultDisplayLength caps display names when callers pass no explicit limit.
const DefaultDisplayLength = 30

const ellipsis = "..."

// MapIdentifier folds an arbitrary identifier into an 8-character lowercase hex
// token. The fold is the 32-bit polynomial hash h = 31*h + c over UTF-16 code
// units, which is what existing disc readers expect. Distinct inputs may
// collide; callers that need uniqueness must check it.
func MapIdentifier(raw string) string {
	var h uint32
	for _, unit := range utf16.Encode([]rune(raw)) {
		h = 31*h + uint32(unit)
	}
	return fmt.Sprintf("%08x", h)
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	unsafeChars       = regexp.MustCompile(`[\\/:*?"<>|\x00-\x08\x0b\x0e-\x1f\x7f]+`)
	repeatedSeparator = regexp.MustCompile(`[\s_]+`)
)

// MapDisplayName turns free text (patient names, descriptions) into a string
// that is safe as a path segment on every common filesystem. Markup is
// stripped, diacritics are folded to ASCII, unsafe characters become
// underscores, and the result is cut to maxLength runes ending in an ellipsis
// when it is longer.
func MapDisplayName(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultDisplayLength
	}
	cleaned := tagPattern.ReplaceAllString(text, " ")
	cleaned = html.UnescapeString(cleaned)
	cleaned = foldDiacritics(cleaned)
	cleaned = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return '_'
		}
		return r
	}, cleaned)
	cleaned = unsafeChars.ReplaceAllString(cleaned, "_")
	cleaned = repeatedSeparator.ReplaceAllStringFunc(cleaned, func(match string) string {
		if strings.ContainsAny(match, " \t\r\n") {
			return " "
		}
		return "_"
	})
	cleaned = strings.Trim(cleaned, " ._")
	return truncate(cleaned, maxLength)
}

// FolderName is MapDisplayName followed by "-token". The token is never
// truncated; the display part gives up room for it.
func FolderName(text string, maxLength int, token string) string {
	if maxLength <= 0 {
		maxLength = DefaultDisplayLength
	}
	name := MapDisplayName(text, maxLength)
	if token == "" {
		return name
	}
	if name == "" {
		return token
	}
	return name + "-" + token
}

func foldDiacritics(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return folded
}

func truncate(text string, maxLength int) string {
	r := []rune(text)
	if len(r) <= maxLength {
		return text
	}
	if maxLength <= len(ellipsis) {
		return string(r[:maxLength])
	}
	return strings.TrimRight(string(r[:maxLength-len(ellipsis)]), " ") + ellipsis
}
