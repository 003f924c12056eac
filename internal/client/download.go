package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// downloadChunkSize is the fixed copy-buffer size for streamed downloads.
const downloadChunkSize = 1 << 20

// Download fetches every output file of a job into
// targetDir/<jobID>/<file name>. File names may contain path separators
// (nested virtual paths); the directory chain is created as needed. Files
// are re-downloaded unconditionally and streamed straight to disk.
func (c *Client) Download(ctx context.Context, targetDir, jobID string, progress ProgressFunc) ([]DownloadedFile, error) {
	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if progress == nil {
		progress = loggingProgress("download")
	}

	var downloaded []DownloadedFile
	for _, param := range job.OutputParams {
		for _, file := range param.Files {
			target := filepath.Join(targetDir, jobID, filepath.FromSlash(file.Name))
			written, err := c.downloadFile(ctx, file, target, progress)
			if err != nil {
				return downloaded, err
			}
			downloaded = append(downloaded, DownloadedFile{Path: target, Bytes: written})
		}
	}
	return downloaded, nil
}

// downloadFile streams one output file to disk in fixed-size chunks.
func (c *Client) downloadFile(ctx context.Context, file FileEntry, target string, progress ProgressFunc) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create download directory: %w", err)
	}

	path := "/downloads/get/" + url.PathEscape(file.Hash) + "/" + escapeName(file.Name)
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil, true, true)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download of %q failed with status %d", file.Name, resp.StatusCode)
	}

	out, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	total, _ := strconv.ParseInt(file.Size, 10, 64)
	counter := &countingWriter{total: total, progress: progress}

	buf := make([]byte, downloadChunkSize)
	written, err := io.CopyBuffer(io.MultiWriter(out, counter), resp.Body, buf)
	if err != nil {
		return written, fmt.Errorf("failed to stream %q to disk: %w", file.Name, err)
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("failed to finish writing %q: %w", target, err)
	}
	return written, nil
}

// escapeName path-escapes a server file name segment by segment, keeping the
// separators of nested virtual paths intact.
func escapeName(name string) string {
	segments := strings.Split(name, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
