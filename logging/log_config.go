package logging

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every registered logger whose dotted name matches Pattern.
// A "*" section matches any run of characters, dots included, so "pcplant.*" covers
// "pcplant.plant.points".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

// A section is alphanumeric runs joined by '_' or '-', or a lone "*".
const patternSection = `([a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*|\*)`

var validPattern = regexp.MustCompile(`^` + patternSection + `(\.` + patternSection + `)*$`)

// ValidatePattern reports whether pattern is a dotted logger name where any section may be "*".
func ValidatePattern(pattern string) bool {
	return validPattern.MatchString(pattern)
}

// matcher compiles the pattern into a regexp over whole logger names.
func (lpc LoggerPatternConfig) matcher() (*regexp.Regexp, error) {
	if !ValidatePattern(lpc.Pattern) {
		return nil, errors.Errorf("invalid logger pattern %q", lpc.Pattern)
	}
	sections := strings.Split(lpc.Pattern, ".")
	for i, section := range sections {
		if section == "*" {
			sections[i] = ".*"
		} else {
			sections[i] = regexp.QuoteMeta(section)
		}
	}
	return regexp.Compile(`^` + strings.Join(sections, `\.`) + `$`)
}
