package validators

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultFileName = "upload"

// SanitizeFileName reduces a client supplied upload name to a bare base name of at most
// maxRunes characters. Directory parts from either path style, control characters and
// invalid UTF-8 are dropped; when truncating, the extension is kept.
func SanitizeFileName(raw string, maxRunes int) string {
	name := strings.ToValidUTF8(raw, "")
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return defaultFileName
	}
	if maxRunes <= 0 || utf8.RuneCountInString(name) <= maxRunes {
		return name
	}

	ext := path.Ext(name)
	if utf8.RuneCountInString(ext) >= maxRunes {
		ext = ""
	}
	stem := []rune(strings.TrimSuffix(name, ext))
	keep := maxRunes - utf8.RuneCountInString(ext)
	if keep > len(stem) {
		keep = len(stem)
	}
	return strings.TrimSpace(string(stem[:keep])) + ext
}
