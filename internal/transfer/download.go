// Package transfer implements the resumable HTTP download primitive.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ralt/srcfetch/internal/models"
	"github.com/ralt/srcfetch/internal/utils"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when the server answers 404
var ErrNotFound = errors.New("not found")

// partSuffix marks an incomplete download that can be continued
const partSuffix = ".part"

// Downloader fetches remote files to disk
type Downloader interface {
	// Download writes url to dest, continuing an earlier partial transfer
	Download(ctx context.Context, url, dest string) error

	// Fetch returns the body of url
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Client implements Downloader over HTTP
type Client struct {
	httpClient *http.Client
	userAgent  string
	tokens     map[string]string // host -> bearer token
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken sends token to every request for the host of baseURL
func WithBearerToken(baseURL, token string) Option {
	return func(c *Client) {
		if token == "" {
			return
		}
		if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
			c.tokens[u.Host] = token
		}
	}
}

// NewClient creates a new download client
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // Long timeout for large source archives
		},
		userAgent: "srcfetch/1.0",
		tokens:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if token, ok := c.tokens[req.URL.Host]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// Fetch returns the body of url
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewError(models.ErrNetwork, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, models.NewError(models.ErrNetwork, rawURL, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.Errorf(models.ErrNetwork, rawURL, "HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Download writes url to dest. The transfer goes through dest+".part"; an
// existing part file is continued with a Range request, and a server that
// ignores the range restarts it from scratch. dest only appears once the
// transfer completed.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	if err := utils.EnsureDir(filepath.Dir(dest)); err != nil {
		return models.NewError(models.ErrFileOp, rawURL, err)
	}

	part := dest + partSuffix
	written, err := c.download(ctx, rawURL, part)
	if err != nil {
		return err
	}

	if err := os.Rename(part, dest); err != nil {
		return models.NewError(models.ErrFileOp, rawURL, fmt.Errorf("failed to move download into place: %w", err))
	}

	logrus.Debugf("Downloaded %s (%d bytes)", filepath.Base(dest), written)
	return nil
}

func (c *Client) download(ctx context.Context, rawURL, part string) (int64, error) {
	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}

	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
		logrus.Infof("Resuming download of %s at byte %d", rawURL, offset)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, models.NewError(models.ErrNetwork, rawURL, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		// Full body, either fresh or the server ignored our range
		flags |= os.O_TRUNC
		offset = 0
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusRequestedRangeNotSatisfiable:
		// The part file does not line up with the remote file any more
		if err := os.Remove(part); err != nil {
			return 0, models.NewError(models.ErrFileOp, rawURL, err)
		}
		if offset == 0 {
			return 0, models.Errorf(models.ErrNetwork, rawURL, "HTTP %d: %s", resp.StatusCode, resp.Status)
		}
		return c.download(ctx, rawURL, part)
	case http.StatusNotFound:
		return 0, models.NewError(models.ErrNetwork, rawURL, ErrNotFound)
	default:
		return 0, models.Errorf(models.ErrNetwork, rawURL, "HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	out, err := os.OpenFile(part, flags, 0644)
	if err != nil {
		return 0, models.NewError(models.ErrFileOp, rawURL, fmt.Errorf("failed to create file: %w", err))
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// Keep the part file so the next run can continue it
		return 0, models.NewError(models.ErrNetwork, rawURL, fmt.Errorf("failed to write file: %w", err))
	}
	return offset + n, nil
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
