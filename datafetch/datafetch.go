// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package datafetch downloads benchmark source data and stages it for
// conversion. Sources come from an FTP mirror (the 1000 Genomes
// release layout) or direct HTTP URLs; staging decompresses .gz
// downloads and gathers the resulting .vcf files into the source
// directory the conversion stage reads.
//
// Downloads are resumable at file granularity: a file that already
// exists locally is never fetched again, and a transfer that fails
// leaves no partial file behind.
package datafetch

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
)

// FTPOpts configures an FTP download.
type FTPOpts struct {
	// Server is the host or host:port to connect to. A bare host gets
	// the standard control port.
	Server   string
	User     string
	Password string
	// RemoteDir is the server directory holding the release.
	RemoteDir string
	// Files names specific files under RemoteDir. Empty mirrors the
	// whole directory tree under RemoteDir.
	Files []string
	// UseTLS upgrades the control connection with AUTH TLS before
	// login.
	UseTLS bool
}

// remote is the part of an FTP connection the download loops consume.
// Tests substitute an in-memory implementation.
type remote interface {
	list(dir string) ([]*ftp.Entry, error)
	open(name string) (io.ReadCloser, error)
}

type ftpRemote struct{ conn *ftp.ServerConn }

func (r ftpRemote) list(dir string) ([]*ftp.Entry, error) { return r.conn.List(dir) }

func (r ftpRemote) open(name string) (io.ReadCloser, error) { return r.conn.Retr(name) }

// FetchFTP downloads the configured files into localDir. With an
// explicit file list, only those files are considered; otherwise the
// remote directory tree is mirrored, preserving its structure. Files
// already present locally are skipped, and a failed transfer is
// logged, cleaned up, and does not stop the remaining files.
func FetchFTP(ctx context.Context, opts FTPOpts, localDir string) error {
	if err := os.MkdirAll(localDir, 0775); err != nil {
		return errors.Wrapf(err, "%v: create download dir", localDir)
	}
	addr := opts.Server
	if !strings.Contains(addr, ":") {
		addr += ":21"
	}
	dialOpts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if opts.UseTLS {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return errors.Wrapf(err, "%v: parse ftp server", addr)
		}
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: host}))
	}
	conn, err := ftp.Dial(addr, dialOpts...)
	if err != nil {
		return errors.Wrapf(err, "%v: dial ftp server", addr)
	}
	defer conn.Quit() // nolint: errcheck
	user, pass := opts.User, opts.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		return errors.Wrapf(err, "%v: ftp login", addr)
	}
	if len(opts.Files) > 0 {
		return fetchFTPList(ftpRemote{conn}, opts.RemoteDir, opts.Files, localDir)
	}
	return mirrorFTP(ftpRemote{conn}, opts.RemoteDir, localDir)
}

// fetchFTPList downloads the named files from remoteDir.
func fetchFTPList(r remote, remoteDir string, names []string, localDir string) error {
	for i, name := range names {
		dest := filepath.Join(localDir, name)
		if _, err := os.Stat(dest); err == nil {
			log.Printf("fetch: (%d/%d) %v already exists, skipping", i+1, len(names), dest)
			continue
		}
		if err := retrieve(r, path.Join(remoteDir, name), dest); err != nil {
			log.Error.Printf("fetch: (%d/%d) %v: %v", i+1, len(names), name, err)
			continue
		}
		log.Printf("fetch: (%d/%d) downloaded %v", i+1, len(names), dest)
	}
	return nil
}

// mirrorFTP replicates the remote directory tree under localDir,
// depth first.
func mirrorFTP(r remote, remoteDir, localDir string) error {
	entries, err := r.list(remoteDir)
	if err != nil {
		return errors.Wrapf(err, "%v: list ftp dir", remoteDir)
	}
	if err := os.MkdirAll(localDir, 0775); err != nil {
		return errors.Wrapf(err, "%v: create local dir", localDir)
	}
	for _, e := range entries {
		switch e.Type {
		case ftp.EntryTypeFolder:
			if e.Name == "." || e.Name == ".." {
				continue
			}
			if err := mirrorFTP(r, path.Join(remoteDir, e.Name), filepath.Join(localDir, e.Name)); err != nil {
				return err
			}
		case ftp.EntryTypeFile:
			dest := filepath.Join(localDir, e.Name)
			if _, err := os.Stat(dest); err == nil {
				log.Printf("fetch: %v already exists, skipping", dest)
				continue
			}
			if err := retrieve(r, path.Join(remoteDir, e.Name), dest); err != nil {
				log.Error.Printf("fetch: %v: %v", e.Name, err)
				continue
			}
			log.Printf("fetch: downloaded %v", dest)
		}
	}
	return nil
}

// retrieve copies one remote file to dest. On any failure the partial
// local file is removed.
func retrieve(r remote, name, dest string) error {
	in, err := r.open(name)
	if err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		_ = in.Close() // nolint: errcheck
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := in.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest) // nolint: errcheck
		return err
	}
	return nil
}
