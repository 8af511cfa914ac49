// Package namespace derives per-user storage namespaces from usernames.
// Concrete provisioners live in the fsnamespace and minionamespace subpackages.
package namespace

import (
	"errors"
	"strings"
	"unicode"

	"github.com/patric-chuzhbe/sinkgate/internal/models"
)

// MaxSegmentBytes is the longest name most filesystems accept for a single path component.
const MaxSegmentBytes = 255

// ErrAlreadyExists is returned by provisioners when the namespace is already present.
var ErrAlreadyExists = errors.New("namespace already exists")

// Path returns the relative namespace path of username.
func Path(username string) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}

	return username + "/", nil
}

// ValidateUsername rejects names that cannot be used as a single path segment.
func ValidateUsername(username string) error {
	if username == "" || username == "." || username == ".." {
		return models.ErrInvalidUsername
	}

	if len(username) > MaxSegmentBytes {
		return models.ErrInvalidUsername
	}

	if strings.ContainsAny(username, `/\`) {
		return models.ErrInvalidUsername
	}

	for _, r := range username {
		if r == 0 || unicode.IsControl(r) {
			return models.ErrInvalidUsername
		}
	}

	return nil
}

// Segment strips the trailing separator off a namespace path and validates what is left.
func Segment(path string) (string, error) {
	name := strings.TrimSuffix(path, "/")
	if err := ValidateUsername(name); err != nil {
		return "", err
	}

	return name, nil
}
