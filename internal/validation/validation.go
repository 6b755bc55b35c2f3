// Package validation checks user- and forge-supplied identifiers before they
// reach the store or the command line of an external process.
package validation

import (
	"fmt"
	"path"
	"strings"

	"github.com/bcnelson/sid/internal/domain"
)

const (
	maxStackNameLen = 128
	maxKeyNameLen   = 100
)

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// isAlphaNum returns true if the byte is an ASCII letter or digit.
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isNum(b)
}

func isHex(b byte) bool {
	return isNum(b) || (b >= 'a' && b <= 'f')
}

// ValidateStackName validates a stack name. Stack names are directory names,
// so they must be a single path segment made of letters, digits, '-', '_' or '.'
// and must start with a letter or digit.
func ValidateStackName(name string) error {
	if name == "" {
		return fmt.Errorf("stack name must not be empty")
	}
	if len(name) > maxStackNameLen {
		return fmt.Errorf("stack name must be at most %d characters", maxStackNameLen)
	}
	if !isAlphaNum(name[0]) {
		return fmt.Errorf("stack name must start with a letter or number")
	}
	for _, b := range []byte(name) {
		if !isAlphaNum(b) && b != '-' && b != '_' && b != '.' {
			return fmt.Errorf("stack names can only contain letters, numbers, '-', '_' or '.'")
		}
	}
	return nil
}

// ValidateComposePath validates a compose file path relative to the mirror root.
func ValidateComposePath(p string) error {
	if err := ValidateRelativePath(p); err != nil {
		return err
	}
	if !domain.IsComposeFile(path.Base(p)) {
		return fmt.Errorf("path must name one of %s", strings.Join(domain.ComposeFileNames, ", "))
	}
	return nil
}

// ValidateRelativePath rejects blank, absolute and parent-escaping paths.
// The returned error text is used as a ResolutionError reason.
func ValidateRelativePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("path is blank")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains a NUL byte")
	}
	if path.IsAbs(p) || strings.HasPrefix(p, `\`) {
		return fmt.Errorf("path is absolute")
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path escapes the repository root")
	}
	return nil
}

// ValidateContainerRef validates a container ID (hex, 12 to 64 characters)
// or a container name as accepted by the engine.
func ValidateContainerRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("container reference must not be empty")
	}
	if len(ref) > 128 {
		return fmt.Errorf("container reference is too long")
	}
	if !isAlphaNum(ref[0]) {
		return fmt.Errorf("container reference must start with a letter or number")
	}
	for _, b := range []byte(ref) {
		if !isAlphaNum(b) && b != '-' && b != '_' && b != '.' {
			return fmt.Errorf("container reference contains invalid character %q", b)
		}
	}
	return nil
}

// IsContainerID reports whether ref looks like a (possibly abbreviated) container ID.
func IsContainerID(ref string) bool {
	if len(ref) < 12 || len(ref) > 64 {
		return false
	}
	for _, b := range []byte(ref) {
		if !isHex(b) {
			return false
		}
	}
	return true
}

// ValidateKeyName validates an API key display name.
func ValidateKeyName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(name) > maxKeyNameLen {
		return fmt.Errorf("name must be at most %d characters", maxKeyNameLen)
	}
	return nil
}

// ValidateCreateStack validates a manual stack creation request.
// The stack name must match the directory that holds the compose file.
func ValidateCreateStack(req *domain.CreateStackRequest) error {
	var errs ValidationErrors
	errs.Check("name", req.Name, ValidateStackName(req.Name))
	if err := ValidateComposePath(req.Path); err != nil {
		errs.Check("path", req.Path, err)
	} else if dir := path.Base(path.Dir(path.Clean(req.Path))); dir != req.Name {
		errs.Check("path", req.Path, fmt.Errorf("compose file must live in a directory named %q", req.Name))
	}
	return errs.Err()
}
