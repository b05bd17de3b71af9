package models

// Package represents an entry of an APK repository index
type Package struct {
	Name         string
	Version      string
	Architecture string
	Description  string
	Homepage     string
	License      string
	Origin       string
	Commit       string
	Dependencies []string

	// Q1-prefixed base64 SHA1 of the control segment
	Checksum string
	Size     int64
}

// Filename returns the artifact file name of the package in its repository
func (p Package) Filename() string {
	return p.Name + "-" + p.Version + ".apk"
}
