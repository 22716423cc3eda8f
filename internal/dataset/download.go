package dataset

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// DefaultBEIRBaseURL hosts the public BEIR archives.
const DefaultBEIRBaseURL = "https://public.ukp.informatik.tu-darmstadt.de/thakur/BEIR/datasets"

// Downloader fetches and unpacks BEIR archives.
type Downloader struct {
	BaseURL string
	Client  *http.Client
}

// NewDownloader creates a downloader. An empty baseURL uses the public host.
func NewDownloader(baseURL string) *Downloader {
	if baseURL == "" {
		baseURL = DefaultBEIRBaseURL
	}
	return &Downloader{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  http.DefaultClient,
	}
}

// Download makes <dir>/<name> available and returns its path. Nothing is
// fetched when the corpus file already exists.
func (d *Downloader) Download(ctx context.Context, name, dir string) (string, error) {
	target := filepath.Join(dir, name)
	if _, err := os.Stat(filepath.Join(target, CorpusFile)); err == nil {
		return target, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.DatasetError("failed to create "+dir, err)
	}

	archive, err := os.CreateTemp(dir, name+"-*.zip")
	if err != nil {
		return "", errors.DatasetError("failed to create temp file", err)
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	url := fmt.Sprintf("%s/%s.zip", d.BaseURL, name)
	if err := d.fetch(ctx, url, archive); err != nil {
		return "", err
	}
	if err := Unzip(archive.Name(), dir); err != nil {
		return "", err
	}

	if _, err := os.Stat(filepath.Join(target, CorpusFile)); err != nil {
		return "", errors.DatasetError(fmt.Sprintf("archive %s did not contain %s/%s", url, name, CorpusFile), err)
	}
	return target, nil
}

func (d *Downloader) fetch(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.DatasetError("failed to build request", err)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.TransportError("download "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.HTTPError("download "+url, resp.StatusCode, "")
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return errors.TransportError("download "+url, err)
	}
	return nil
}

// Unzip extracts archive into dir. Entries escaping dir are rejected.
func Unzip(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return errors.DatasetError("failed to open archive", err)
	}
	defer r.Close()

	base, err := filepath.Abs(dir)
	if err != nil {
		return errors.DatasetError("failed to resolve "+dir, err)
	}
	root := base + string(os.PathSeparator)
	for _, f := range r.File {
		path := filepath.Join(base, f.Name)
		if !strings.HasPrefix(path, root) {
			return errors.DatasetError(fmt.Sprintf("archive entry %q escapes %s", f.Name, dir), nil)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return errors.DatasetError("failed to create "+path, err)
			}
			continue
		}
		if err := extract(f, path); err != nil {
			return errors.DatasetError("failed to extract "+f.Name, err)
		}
	}
	return nil
}

func extract(f *zip.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
