package systemd

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/unitdeck/internal/apperr"
)

// DefaultSuffixes are the unit types shown when none are configured.
var DefaultSuffixes = []string{".service"}

var unitNamePattern = regexp.MustCompile(`^[A-Za-z0-9:_.\\@-]+$`)

// ValidName checks that name is a plausible unit name ending in one of the
// given suffixes. It rejects anything systemctl could read as a flag.
func ValidName(name string, suffixes []string) error {
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}
	err := validation.Validate(name,
		validation.Required,
		validation.Length(1, 256),
		validation.Match(unitNamePattern).Error("contains characters not allowed in unit names"),
		validation.By(func(v interface{}) error {
			s, _ := v.(string)
			if strings.HasPrefix(s, "-") {
				return errors.New("must not start with '-'")
			}
			if !HasSuffix(s, suffixes) {
				return fmt.Errorf("must end with one of %s", strings.Join(suffixes, ", "))
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("unit name %q: %w: %v", name, apperr.ErrInvalidRequest, err)
	}
	return nil
}

// HasSuffix reports whether name ends with any of suffixes.
func HasSuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// isTemplate reports whether name is an uninstantiated template such as
// "getty@.service".
func isTemplate(name string) bool {
	return strings.Contains(name, "@.")
}

// typeFlag builds the --type argument from suffixes (".service" -> "service").
func typeFlag(suffixes []string) string {
	types := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		types = append(types, strings.TrimPrefix(s, "."))
	}
	return "--type=" + strings.Join(types, ",")
}
