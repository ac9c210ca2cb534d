package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/async/op"
	"github.com/rendis/asyncflow/internal/guard"
	"github.com/rendis/asyncflow/pkg/schema"
)

// toolRelease is a tar.gz release asset carrying one binary.
type toolRelease struct {
	Binary string // file name inside the archive and on disk
	URL    string
	SHA256 string // hex digest; empty skips verification
	Dir    string
	Client *http.Client
}

// toolInstall tracks the files shared between the install steps. An
// interrupted download may still be running when cleanup does.
type toolInstall struct {
	rel     toolRelease
	g       *guard.Guard
	archive string
}

func (in *toolInstall) archivePath() string {
	return guard.Get(in.g, func() string { return in.archive })
}

// installTool downloads, verifies and extracts rel as a sequential
// execution. Cancelling ctx cancels the running step. It returns the path
// of the installed binary.
func installTool(ctx context.Context, rel toolRelease) (string, error) {
	if rel.Client == nil {
		rel.Client = http.DefaultClient
	}
	if err := os.MkdirAll(rel.Dir, 0o755); err != nil {
		return "", err
	}
	in := &toolInstall{rel: rel, g: guard.New()}
	defer in.cleanup()

	steps := []async.Startable[string]{
		async.Go(in.download, async.WithName("download")),
		async.Go(in.verify, async.WithName("verify")),
		async.Go(in.extract, async.WithName("extract")),
	}
	e := op.Sequential(slices.Values(steps),
		op.WithExecutionOptions(async.WithName("install "+rel.Binary)))
	if err := e.Start(); err != nil {
		return "", err
	}

	r, err := e.WaitForDone(ctx)
	if err != nil {
		e.Cancel(true)
		<-e.Done()
		return "", err
	}
	switch {
	case r.IsFailed():
		return "", r.Err
	case r.IsCancelled():
		return "", async.ErrCancelled
	}
	return r.Value, nil
}

func (in *toolInstall) download(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.rel.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := in.rel.Client.Do(req)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "download %s: %v", in.rel.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "download %s: status %d", in.rel.URL, resp.StatusCode)
	}

	f, err := os.CreateTemp(in.rel.Dir, in.rel.Binary+"-*.tar.gz")
	if err != nil {
		return "", err
	}
	in.g.Run(func() { in.archive = f.Name() })
	_, err = io.Copy(f, ctxReader{ctx: ctx, r: resp.Body})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "download %s: %v", in.rel.URL, err)
	}
	return f.Name(), nil
}

func (in *toolInstall) verify(ctx context.Context) (string, error) {
	archive := in.archivePath()
	if in.rel.SHA256 == "" {
		return archive, nil
	}
	f, err := os.Open(archive)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, ctxReader{ctx: ctx, r: f}); err != nil {
		return "", err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != in.rel.SHA256 {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "checksum mismatch for %s", in.rel.URL).
			WithDetails(map[string]any{"expected": in.rel.SHA256, "actual": got})
	}
	return archive, nil
}

func (in *toolInstall) extract(ctx context.Context) (string, error) {
	f, err := os.Open(in.archivePath())
	if err != nil {
		return "", err
	}
	defer f.Close()

	dest := filepath.Join(in.rel.Dir, in.rel.Binary)
	if err := extractBinary(ctxReader{ctx: ctx, r: f}, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (in *toolInstall) cleanup() {
	if archive := in.archivePath(); archive != "" {
		_ = os.Remove(archive)
	}
}

// extractBinary copies the regular file named like dest out of a tar.gz
// stream. The binary is written next to dest and renamed into place, so a
// failed extraction never leaves a partial file behind.
func extractBinary(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "archive is not gzip: %v", err)
	}
	defer gz.Close()

	name := filepath.Base(dest)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found in archive", name)
		}
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "read archive: %v", err)
		}
		if hdr.Typeflag == tar.TypeReg && filepath.Base(hdr.Name) == name {
			break
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), name+"-*.part")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, tr); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// releaseAsset names the release asset of a tool for a platform, following
// the goreleaser convention: <tool>_<OS>_<arch>.tar.gz.
func releaseAsset(tool, goos, goarch string) (string, error) {
	osName, ok := map[string]string{"darwin": "Darwin", "linux": "Linux"}[goos]
	if !ok {
		return "", fmt.Errorf("%s: unsupported OS %q", tool, goos)
	}
	arch, ok := map[string]string{"amd64": "x86_64", "arm64": "arm64", "386": "i386"}[goarch]
	if !ok {
		return "", fmt.Errorf("%s: unsupported architecture %q", tool, goarch)
	}
	return fmt.Sprintf("%s_%s_%s.tar.gz", tool, osName, arch), nil
}
