// Package vcs implements clone, status and checkout on go-git.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/sirupsen/logrus"
)

// Git is the set of version-control operations the checkout strategy needs
type Git interface {
	// Clone performs a full clone of url into dir
	Clone(ctx context.Context, url, dir string) error

	// IsCleanWorkTree reports whether dir is the root of a working tree
	// without local modifications
	IsCleanWorkTree(ctx context.Context, dir string) bool

	// Checkout moves the working tree in dir to rev
	Checkout(ctx context.Context, dir, rev string) error

	// Fetch updates the refs of dir from its origin
	Fetch(ctx context.Context, dir string) error
}

// Client implements Git in-process
type Client struct {
	sshAuth  transport.AuthMethod
	httpAuth transport.AuthMethod
}

// NewClient creates a Git client. Credentials are only picked up in
// privileged mode; otherwise every remote is accessed anonymously.
func NewClient(privileged bool) *Client {
	c := &Client{}
	if privileged {
		c.sshAuth = sshKeyAuth()
		c.httpAuth = tokenAuth()
	}
	return c
}

// auth selects the credentials for the protocol of url
func (c *Client) auth(url string) transport.AuthMethod {
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return nil
	}
	switch ep.Protocol {
	case "ssh":
		return c.sshAuth
	case "http", "https":
		return c.httpAuth
	default:
		return nil
	}
}

// Clone performs a full clone of url into dir
func (c *Client) Clone(ctx context.Context, url, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return err
	}

	logrus.Debugf("Cloning %s", url)
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  url,
		Auth: c.auth(url),
		Tags: git.AllTags,
	})
	if err != nil {
		return fmt.Errorf("clone of %s failed: %w", url, err)
	}
	return nil
}

// IsCleanWorkTree reports whether dir is the top of a clean working tree.
// A directory nested inside some other repository does not count.
func (c *Client) IsCleanWorkTree(ctx context.Context, dir string) bool {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false
	}
	status, err := wt.Status()
	return err == nil && status.IsClean()
}

// Checkout moves the working tree in dir to rev. rev is a commit id, a
// short id or any other revision go-git resolves.
func (c *Client) Checkout(ctx context.Context, dir, rev string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dir, err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return fmt.Errorf("revision %s not found: %w", rev, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("checkout of %s failed: %w", rev, err)
	}
	return nil
}

// Fetch updates the refs and tags of dir from its origin
func (c *Client) Fetch(ctx context.Context, dir string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dir, err)
	}

	var auth transport.AuthMethod
	if remote, err := repo.Remote(git.DefaultRemoteName); err == nil && len(remote.Config().URLs) > 0 {
		auth = c.auth(remote.Config().URLs[0])
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       auth,
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch failed: %w", err)
	}
	return nil
}

// sshKeyAuth loads the first usable private key from ~/.ssh. Without one
// go-git falls back to the ssh agent.
func sshKeyAuth() transport.AuthMethod {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		auth, err := ssh.NewPublicKeysFromFile("git", path, "")
		if err != nil {
			logrus.Debugf("Ignoring ssh key %s: %v", path, err)
			continue
		}
		return auth
	}
	return nil
}

// tokenAuth reads a forge token for https remotes from the environment
func tokenAuth() transport.AuthMethod {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return &http.BasicAuth{Username: "x-access-token", Password: token}
	}
	if token := os.Getenv("GIT_TOKEN"); token != "" {
		return &http.BasicAuth{Username: "git", Password: token}
	}
	return nil
}
