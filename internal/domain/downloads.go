package domain

import (
	"fmt"
	"time"
)

// Registry names a package registry.
type Registry string

const (
	RegistryPyPI Registry = "pypi"
	RegistryNPM  Registry = "npm"
)

// ParseRegistry rejects unknown registries.
func ParseRegistry(s string) (Registry, error) {
	switch r := Registry(s); r {
	case RegistryPyPI, RegistryNPM:
		return r, nil
	}
	return "", &ConfigError{Source: "packages", Reason: fmt.Sprintf("unsupported registry %q", s)}
}

// Package is a published package tracked for downloads.
type Package struct {
	Name     string
	Registry Registry
}

func (p Package) String() string {
	return string(p.Registry) + ":" + p.Name
}

// PackageDownload is the normalized daily count of one package on one registry.
type PackageDownload struct {
	Package  string
	Registry Registry
	Date     time.Time
	Count    int64
}
