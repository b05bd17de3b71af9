package locator

import (
	"fmt"
	"net/url"
	"strings"
)

// vcsTransports are the vcs_url prefixes that select a VCS checkout
var vcsTransports = []string{
	"git+https://",
	"git+http://",
	"git+ssh://",
	"git+git://",
	"git://",
}

// IsVCSTransport reports whether s starts with a recognised VCS transport
func IsVCSTransport(s string) bool {
	lower := strings.ToLower(s)
	for _, prefix := range vcsTransports {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// VCSSource is a repository URL pinned to an exact revision
type VCSSource struct {
	URL string
	Pin string
}

// ParseVCS splits a transport string such as
// "git+https://github.com/foo/bar@abc123#sub" into clone URL and pin.
func ParseVCS(transport string) (VCSSource, error) {
	s := strings.TrimSpace(transport)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "git+")

	// The pin follows the last '@' of the path, not the one of user@host.
	slash := strings.LastIndexByte(s, '/')
	at := strings.LastIndexByte(s, '@')
	if at < 0 || at < slash {
		return VCSSource{}, fmt.Errorf("vcs url %q has no @<revision> pin", transport)
	}

	src := VCSSource{URL: s[:at], Pin: s[at+1:]}
	if src.Pin == "" || src.URL == "" {
		return VCSSource{}, fmt.Errorf("vcs url %q has an empty url or pin", transport)
	}
	return src, nil
}

// AuthenticatedURL rewrites an http(s) repository URL to the ssh form
// "git@host:owner/repo.git". Other URLs are returned unchanged.
func AuthenticatedURL(repo string) string {
	u, err := url.Parse(repo)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return repo
	}
	path := strings.Trim(u.Path, "/")
	if !strings.HasSuffix(path, ".git") {
		path += ".git"
	}
	return fmt.Sprintf("git@%s:%s", u.Host, path)
}

// AnonymousURL rewrites ssh repository URLs to https. Other URLs are
// returned unchanged.
func AnonymousURL(repo string) string {
	if strings.HasPrefix(repo, "ssh://") {
		u, err := url.Parse(repo)
		if err != nil || u.Host == "" {
			return repo
		}
		return "https://" + u.Hostname() + "/" + strings.Trim(u.Path, "/")
	}
	if host, path, ok := strings.Cut(strings.TrimPrefix(repo, "git@"), ":"); ok && strings.HasPrefix(repo, "git@") {
		return "https://" + host + "/" + strings.Trim(path, "/")
	}
	return repo
}

// ForgeRepository returns the https URL of a forge-hosted reference such as
// pkg:github/foo/bar.
func ForgeRepository(ref *Reference) (string, error) {
	host := ""
	switch ref.Type {
	case TypeGitHub:
		host = "github.com"
	default:
		return "", fmt.Errorf("no forge known for type %q", ref.Type)
	}
	if ref.Namespace == "" {
		return "", fmt.Errorf("%s reference %q needs an owner namespace", ref.Type, ref.Raw)
	}
	return "https://" + host + "/" + ref.Namespace + "/" + ref.Name, nil
}
