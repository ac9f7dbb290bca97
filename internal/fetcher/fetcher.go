// Package fetcher retrieves observation exports from local files, HTTP(S) and
// FTP, and parses CSV, JSON and XLSX exports into header-mapped records.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher retrieves the content behind a source location.
type Fetcher interface {
	// Download opens the source and returns its content. The caller closes it.
	Download(ctx context.Context, source string) (io.ReadCloser, error)

	// DownloadToFile copies the source to path. Returns bytes written.
	DownloadToFile(ctx context.Context, source string, path string) (int64, error)
}

// Options configures the fetchers a Router dispatches to.
type Options struct {
	HTTP HTTPOptions
	FTP  FTPOptions
}

// Router picks a Fetcher by the scheme of the source: http and https go to
// the HTTP fetcher, ftp to the FTP fetcher, and anything else (a bare path or
// file://) is read from the local filesystem.
type Router struct {
	http  Fetcher
	ftp   Fetcher
	local Fetcher
}

// NewRouter creates a Router with default fetchers for each scheme.
func NewRouter(opts Options) *Router {
	return &Router{
		http:  NewHTTPFetcher(opts.HTTP),
		ftp:   NewFTPFetcher(opts.FTP),
		local: LocalFetcher{},
	}
}

func (r *Router) pick(source string) Fetcher {
	switch Scheme(source) {
	case "http", "https":
		return r.http
	case "ftp":
		return r.ftp
	default:
		return r.local
	}
}

// Download implements Fetcher.
func (r *Router) Download(ctx context.Context, source string) (io.ReadCloser, error) {
	return r.pick(source).Download(ctx, source)
}

// DownloadToFile implements Fetcher.
func (r *Router) DownloadToFile(ctx context.Context, source string, path string) (int64, error) {
	return r.pick(source).DownloadToFile(ctx, source, path)
}

// Scheme returns the lower-cased URL scheme of source, or "" for a plain path.
func Scheme(source string) string {
	i := strings.Index(source, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(source[:i])
}

// Ext returns the lower-cased file extension of a source's path, ignoring any
// query string.
func Ext(source string) string {
	p := source
	if Scheme(source) != "" {
		if u, err := url.Parse(source); err == nil {
			p = u.Path
		}
	}
	return strings.ToLower(filepath.Ext(p))
}

// LocalFetcher reads sources from the local filesystem.
type LocalFetcher struct{}

func localPath(source string) string {
	return strings.TrimPrefix(source, "file://")
}

// Download implements Fetcher.
func (LocalFetcher) Download(_ context.Context, source string) (io.ReadCloser, error) {
	f, err := os.Open(localPath(source))
	if err != nil {
		return nil, eris.Wrap(err, "local: open")
	}
	return f, nil
}

// DownloadToFile implements Fetcher.
func (l LocalFetcher) DownloadToFile(ctx context.Context, source string, path string) (int64, error) {
	rc, err := l.Download(ctx, source)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck
	return writeFile(path, rc)
}

func writeFile(path string, r io.Reader) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, r)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	return n, nil
}
