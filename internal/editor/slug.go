package editor

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Paintersrp/quill/internal/constants"
)

const fallbackSlug = "untitled"

// Slugify lowercases title, drops accents and joins runs of letters and
// digits with single dashes. Non-Latin letters are kept.
func Slugify(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	lastDash := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// TruncateStem shortens stem so that stem+ext fits the filename byte limit,
// cutting on a rune boundary.
func TruncateStem(stem, ext string) string {
	limit := constants.MaxFilenameBytes - len(ext)
	if limit <= 0 {
		return ""
	}
	if len(stem) <= limit {
		return stem
	}
	for limit > 0 && !utf8.RuneStart(stem[limit]) {
		limit--
	}
	stem = strings.TrimRight(stem[:limit], "-")
	if stem == "" {
		return fallbackSlug
	}
	return stem
}

// RenamedPath returns the sibling path of current named after heading.
func RenamedPath(current, heading string) string {
	name := TruncateStem(Slugify(heading), constants.MarkdownExt) + constants.MarkdownExt
	dir := path.Dir(current)
	if dir == "." || dir == "/" {
		return name
	}
	return dir + "/" + name
}
