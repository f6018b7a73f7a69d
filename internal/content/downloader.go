// Package content downloads and unpacks the project's content file bundle.
package content

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/sirupsen/logrus"
)

// ProgressInterval is the minimum time between two progress callbacks.
const ProgressInterval = 2 * time.Second

// Error is a download failure with a user facing message.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// ProgressFunc receives the number of bytes unpacked so far and the size of
// the download, which is -1 when unknown.
type ProgressFunc func(processed, total int64)

// Downloader fetches a zip bundle over HTTP and extracts it.
type Downloader struct {
	client *http.Client
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewDownloader creates a downloader.
func NewDownloader(logger logrus.FieldLogger) *Downloader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Downloader{
		client: &http.Client{},
		logger: logger.WithField("component", "content"),
		now:    time.Now,
	}
}

// Required reports whether the bundle at filesURL with version must be
// downloaded into dir given the info saved after the last download.
func Required(saved *models.ContentFilesInfo, filesURL string, version int, dir string, always bool) bool {
	if filesURL == "" || version < 0 {
		return false
	}
	if always || dir == "" || saved == nil {
		return true
	}
	if saved.Version != version || saved.URL != filesURL {
		return true
	}
	return isEmptyDir(saved.Dir)
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err != nil || len(entries) == 0
}

// Download fetches rawURL and extracts it into dir, creating dir if needed.
func (d *Downloader) Download(ctx context.Context, rawURL, dir string, progress ProgressFunc) error {
	unreachable := func(err error) error {
		return &Error{Message: "Could not download app content files from: " + rawURL, Err: err}
	}
	failed := func(err error) error {
		return &Error{Message: "Download of app content files failed! Please try again later.", Err: err}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return failed(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return unreachable(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return unreachable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unreachable(fmt.Errorf("server returned %d", resp.StatusCode))
	}

	// archive/zip needs random access, so spool the body to disk first.
	tmp, err := os.CreateTemp(filepath.Dir(filepath.Clean(dir)), ".content-*.zip")
	if err != nil {
		return failed(err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return failed(err)
	}
	d.logger.WithFields(logrus.Fields{"url": rawURL, "size": humanize.Bytes(uint64(size))}).Info("content bundle downloaded")

	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return failed(err)
	}

	total := resp.ContentLength
	var processed int64
	var last time.Time
	for _, f := range zr.File {
		n, err := d.extract(f, dir)
		if err != nil {
			return failed(err)
		}
		processed += n

		if progress != nil {
			if now := d.now(); now.Sub(last) > ProgressInterval {
				last = now
				progress(processed, total)
			}
		}
	}

	d.logger.WithFields(logrus.Fields{
		"dir":      dir,
		"files":    len(zr.File),
		"unpacked": humanize.Bytes(uint64(processed)),
	}).Info("content bundle extracted")
	return nil
}

func (d *Downloader) extract(f *zip.File, dir string) (int64, error) {
	name := filepath.FromSlash(f.Name)
	if isHidden(name) {
		d.logger.WithField("entry", f.Name).Debug("skipping hidden entry")
		return 0, nil
	}

	target := filepath.Join(dir, name)
	root := filepath.Clean(dir) + string(os.PathSeparator)
	if !strings.HasPrefix(target+string(os.PathSeparator), root) {
		return 0, fmt.Errorf("entry %q escapes target directory", f.Name)
	}

	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		return 0, os.MkdirAll(target, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// isHidden reports whether any element of the path starts with a dot.
func isHidden(name string) bool {
	for _, part := range strings.Split(name, string(os.PathSeparator)) {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
