package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultPattern is used when no filename pattern is configured
const DefaultPattern = "{trackNumber} - {artist} - {title}"

// Placeholders lists the fields a pattern may reference
var Placeholders = []string{"{artist}", "{album}", "{trackNumber}", "{title}"}

var (
	placeholderRe   = regexp.MustCompile(`\{[^{}]*\}`)
	separatorRunRe  = regexp.MustCompile(`[\s\-\[\]()']+`)
	underscoreRunRe = regexp.MustCompile(`__+`)
	lower           = cases.Lower(language.Und)
)

// Fields holds the values substituted into a pattern
type Fields struct {
	Artist      string
	Album       string
	TrackNumber string
	Title       string
}

// Formatter renders output names from a placeholder pattern
type Formatter struct {
	pattern     string
	underscored bool
}

// NewFormatter validates the pattern and returns a formatter for it
func NewFormatter(pattern string, underscored bool) (*Formatter, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	return &Formatter{pattern: pattern, underscored: underscored}, nil
}

// ValidatePattern rejects empty patterns, unknown placeholders and absolute paths
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("filename pattern cannot be empty")
	}
	if strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("filename pattern must be relative, got: %s", pattern)
	}
	for _, ph := range placeholderRe.FindAllString(pattern, -1) {
		if !isKnownPlaceholder(ph) {
			return fmt.Errorf("unknown placeholder %s in filename pattern (available: %s)", ph, strings.Join(Placeholders, ", "))
		}
	}
	if strings.HasSuffix(pattern, "/") {
		return fmt.Errorf("filename pattern must end with a file name, got: %s", pattern)
	}
	return nil
}

func isKnownPlaceholder(ph string) bool {
	for _, known := range Placeholders {
		if ph == known {
			return true
		}
	}
	return false
}

// Format substitutes the fields into the pattern. Path separators inside
// field values are replaced so only separators written in the pattern create
// sub directories, and no component of the result is "." or "..", so the
// name always stays below the output directory.
func (f *Formatter) Format(fields Fields) string {
	pattern := f.pattern
	if f.underscored {
		pattern = strings.ReplaceAll(pattern, " - ", "__")
	}

	replacer := strings.NewReplacer(
		"{artist}", escapeSeparators(fields.Artist),
		"{album}", escapeSeparators(fields.Album),
		"{trackNumber}", escapeSeparators(fields.TrackNumber),
		"{title}", escapeSeparators(fields.Title),
	)
	name := replacer.Replace(pattern)

	if f.underscored {
		name = Underscore(name)
	}
	return escapeDotComponents(name)
}

// Underscore lower-cases the name, drops dots and collapses whitespace,
// dashes, brackets and quotes into underscores
func Underscore(name string) string {
	name = strings.ReplaceAll(name, ".", "")
	name = lower.String(name)
	name = separatorRunRe.ReplaceAllString(name, "_")
	return underscoreRunRe.ReplaceAllString(name, "__")
}

func escapeSeparators(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	return strings.ReplaceAll(value, string(filepath.Separator), "_")
}

// escapeDotComponents replaces every dot of a "." or ".." path component
// with an underscore
func escapeDotComponents(name string) string {
	parts := strings.Split(name, "/")
	for i, part := range parts {
		if part == "." || part == ".." {
			parts[i] = strings.Repeat("_", len(part))
		}
	}
	return strings.Join(parts, "/")
}

// Split separates a formatted name into its sub directory and base name
func Split(name string) (subdir, base string) {
	subdir = filepath.Dir(name)
	if subdir == "." {
		subdir = ""
	}
	return subdir, filepath.Base(name)
}

// TrackNumber renders a player-supplied track number, zero-padded to two digits
func TrackNumber(n int) string {
	return fmt.Sprintf("%02d", n)
}

// CounterNumber renders the internal counter, zero-padded to three digits
func CounterNumber(n int) string {
	return fmt.Sprintf("%03d", n)
}
