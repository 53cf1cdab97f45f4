package mnist

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
)

// mirror hosts the official MNIST IDX archives. Overridable in tests.
var mirror = "https://ossci-datasets.s3.amazonaws.com/mnist/"

// archives are the gzip-compressed IDX files that make up both splits.
var archives = []string{
	trainImagesFile + ".gz",
	trainLabelsFile + ".gz",
	testImagesFile + ".gz",
	testLabelsFile + ".gz",
}

// Download ensures both MNIST splits are present in dir, fetching and
// extracting any archive whose IDX file is missing. Transfer and
// filesystem errors propagate to the caller; there is no retry.
func Download(ctx context.Context, log *slog.Logger, dir string) error {
	log.Info("attempting to download MNIST", "dir", dir)

	for _, name := range archives {
		target := filepath.Join(dir, strings.TrimSuffix(name, ".gz"))
		if _, err := os.Stat(target); err == nil {
			log.Info("file already present, skipping", "file", target)
			continue
		}

		if err := fetch(ctx, mirror+name, target); err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
		log.Info("downloaded", "file", target)
	}

	return nil
}

// fetch downloads one gzip archive and streams its extracted contents to
// dest. The file is written to a temporary path first and renamed into
// place so a failed transfer never leaves a truncated IDX file behind.
func fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(dest))
	gz, err := gzip.NewReader(io.TeeReader(resp.Body, bar))
	if err != nil {
		return fmt.Errorf("gunzip %s: %w", url, err)
	}
	defer gz.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("extract %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dest)
}
