package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/paq/internal/scanner"
)

// validateSource checks a single positional source argument
func validateSource(arg string) error {
	if strings.TrimSpace(arg) == "" {
		return fmt.Errorf("empty source")
	}

	if strings.ContainsRune(arg, 0) {
		return fmt.Errorf("contains NUL byte")
	}

	if scanner.IsPattern(arg) && !doublestar.ValidatePattern(filepath.ToSlash(arg)) {
		return fmt.Errorf("malformed glob pattern")
	}

	return nil
}

// validateSources validates a slice of source arguments
func validateSources(args []string) error {
	for _, arg := range args {
		if err := validateSource(arg); err != nil {
			return fmt.Errorf("invalid source '%s': %w", arg, err)
		}
	}
	return nil
}
