package apk

import (
	"regexp"
	"strings"

	"github.com/ralt/srcfetch/internal/models"
)

// releaseSuffix matches names that already carry a package release, e.g. zlib-1.3-r0
var releaseSuffix = regexp.MustCompile(`-r[0-9]+$`)

// HasReleaseSuffix reports whether name ends in -r<N>
func HasReleaseSuffix(name string) bool {
	return releaseSuffix.MatchString(name)
}

// Repository is one architecture of an APK repository
type Repository struct {
	URL  string
	Arch models.Arch
}

// NewRepository returns the arch directory of the repository at url
func NewRepository(url string, arch models.Arch) Repository {
	return Repository{URL: strings.TrimRight(url, "/"), Arch: arch}
}

// IndexURL returns the URL of the repository index
func (r Repository) IndexURL() string {
	return r.FileURL(IndexFile)
}

// FileURL returns the URL of a file in the arch directory
func (r Repository) FileURL(file string) string {
	return r.URL + "/" + r.Arch.String() + "/" + file
}

// PackageURL returns the URL of the artifact for name at version
func (r Repository) PackageURL(name, version string) string {
	return r.FileURL(models.Package{Name: name, Version: version}.Filename())
}
