// Package util provides purl and environment helpers shared across the service.
package util

import (
	"os"
	"strings"

	"github.com/package-url/packageurl-go"
)

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// IsEmpty checks if a string is empty or contains only whitespace
func IsEmpty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// IsNotEmpty checks if a string is not empty
func IsNotEmpty(s string) bool {
	return !IsEmpty(s)
}

// Contains checks if a string slice contains an item
func Contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// CanonicalPURL normalizes a purl string to its canonical form, dropping
// qualifiers and subpath so that the same component always yields the same
// identifier regardless of how the upstream manifest spelled it
func CanonicalPURL(purlStr string) (string, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return "", err
	}

	canonical := packageurl.PackageURL{
		Type:      parsed.Type,
		Namespace: parsed.Namespace,
		Name:      parsed.Name,
		Version:   parsed.Version,
		// Qualifiers and Subpath are intentionally omitted
	}

	return strings.ToLower(canonical.ToString()), nil
}

// GetBasePURL removes the version component from a purl to create a base
// package identifier, e.g. pkg:npm/lodash@4.17.20 -> pkg:npm/lodash
func GetBasePURL(purlStr string) (string, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return "", err
	}

	base := packageurl.PackageURL{
		Type:      parsed.Type,
		Namespace: parsed.Namespace,
		Name:      parsed.Name,
		// Version, Qualifiers and Subpath are intentionally omitted
	}

	return strings.ToLower(base.ToString()), nil
}

// ParsePURL parses a purl string and returns the parsed PackageURL
func ParsePURL(purlStr string) (*packageurl.PackageURL, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// PurlName extracts the package name from a purl string, falling back to the
// raw input when it does not parse
func PurlName(purlStr string) string {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return purlStr
	}
	return parsed.Name
}
