// Package archive packs a finished CSV for webhook delivery. Zip is tried
// first; when the result still exceeds the upload cap, gzip gets a second
// chance before the file is reported as local-only.
package archive

import (
	"archive/zip"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"pgharvest/internal/notify"
)

// Zip writes a single-entry deflate archive next to src and returns its path.
func Zip(src string) (string, error) {
	dst := src + ".zip"
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	entry, err := zw.Create(filepath.Base(src))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(entry, in); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

// Gzip writes a gzip copy next to src and returns its path.
func Gzip(src string) (string, error) {
	dst := src + ".gz"
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	gw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	if _, err := io.Copy(gw, in); err != nil {
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

// CompressAndUpload packs src and sends the smallest fitting archive to the
// webhook. Everything is best-effort: failures are logged and reported to
// the event sink, never returned, so a full channel cannot fail a run.
func CompressAndUpload(client *notify.Client, log *zap.Logger, webhookURL, src, comment string) {
	if webhookURL == "" {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}

	zipPath, err := Zip(src)
	if err == nil && fits(zipPath) {
		if err := client.SendFile(webhookURL, zipPath, comment); err == nil {
			return
		}
	}
	if err != nil {
		log.Warn("zip failed", zap.String("file", src), zap.Error(err))
	}

	gzPath, err := Gzip(src)
	if err == nil && fits(gzPath) {
		if err := client.SendFile(webhookURL, gzPath, comment); err == nil {
			return
		}
	}
	if err != nil {
		log.Warn("gzip failed", zap.String("file", src), zap.Error(err))
	}

	log.Warn("archive exceeds upload cap, keeping local copy", zap.String("file", src))
	client.SendEvent(webhookURL, fmt.Sprintf("⚠️ %s is too large to attach; kept locally at %s", filepath.Base(src), src))
}

func fits(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() <= notify.MaxUploadBytes
}
