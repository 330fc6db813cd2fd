package datafetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// HTTPOpts configures direct URL downloads.
type HTTPOpts struct {
	URLs []string
	// Parallel bounds the number of concurrent transfers. Values below
	// one mean one.
	Parallel int
	// Client overrides the HTTP client. Nil means
	// http.DefaultClient.
	Client *http.Client
}

// FetchHTTP downloads each URL into localDir, named by the last
// segment of the URL path. Files already present locally are skipped.
// Unlike the FTP mirror, a failed transfer fails the fetch: URLs are
// listed one by one in the configuration, so a miss is a config error
// rather than a hole in a mirrored tree.
func FetchHTTP(ctx context.Context, opts HTTPOpts, localDir string) error {
	if len(opts.URLs) == 0 {
		return nil
	}
	if err := os.MkdirAll(localDir, 0775); err != nil {
		return errors.Wrapf(err, "%v: create download dir", localDir)
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, rawURL := range opts.URLs {
		rawURL := rawURL
		g.Go(func() error {
			return fetchURL(ctx, client, rawURL, localDir)
		})
	}
	return g.Wait()
}

func fetchURL(ctx context.Context, client *http.Client, rawURL, localDir string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(err, "%v: parse url", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return errors.Errorf("%v: cannot derive a file name", rawURL)
	}
	dest := filepath.Join(localDir, name)
	if _, err := os.Stat(dest); err == nil {
		log.Printf("fetch: %v already exists, skipping", dest)
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrapf(err, "%v: build request", rawURL)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%v: fetch", rawURL)
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%v: fetch: %v", rawURL, resp.Status)
	}
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "%v: create", dest)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()     // nolint: errcheck
		_ = os.Remove(dest) // nolint: errcheck
		return errors.Wrapf(err, "%v: download", rawURL)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest) // nolint: errcheck
		return errors.Wrapf(err, "%v: close", dest)
	}
	log.Printf("fetch: downloaded %v", dest)
	return nil
}
