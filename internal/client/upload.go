package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// ProgressFunc receives transfer progress. written counts bytes actually
// moved, never estimated; total is the sum of all file sizes.
type ProgressFunc func(written, total int64)

// loggingProgress returns a ProgressFunc that reports through slog each time
// a quarter of the transfer completes.
func loggingProgress(op string) ProgressFunc {
	lastQuarter := -1
	return func(written, total int64) {
		if total <= 0 {
			return
		}
		quarter := int(written * 4 / total)
		if quarter > lastQuarter {
			lastQuarter = quarter
			slog.Info(op+"_progress",
				"written", humanize.IBytes(uint64(written)),
				"total", humanize.IBytes(uint64(total)))
		}
	}
}

// countingWriter forwards progress as bytes pass through it.
type countingWriter struct {
	written  int64
	total    int64
	progress ProgressFunc
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.progress != nil {
		w.progress(w.written, w.total)
	}
	return len(p), nil
}

// postMultipart submits the job form as streamed multipart data: the scalar
// fields first, then one "files" part per input file, read as opaque binary.
// Nothing is buffered in memory beyond the copy buffer.
func (c *Client) postMultipart(ctx context.Context, path string, params JobSubmission, progress ProgressFunc) ([]byte, error) {
	var total int64
	for _, file := range params.Files {
		info, err := os.Stat(file)
		if err != nil {
			return nil, fmt.Errorf("failed to stat input file: %w", err)
		}
		total += info.Size()
	}

	if progress == nil {
		progress = loggingProgress("upload")
	}
	counter := &countingWriter{total: total, progress: progress}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeSubmission(mw, params, counter))
	}()

	headers := map[string]string{"Content-Type": mw.FormDataContentType()}
	resp, err := c.do(ctx, http.MethodPost, path, pr, headers, true, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if c.debug {
		c.observer.Verbose("response body", body)
	}
	return body, nil
}

// writeSubmission writes the full multipart body and closes the writer.
// File bytes pass through counter on their way into the request body.
func writeSubmission(mw *multipart.Writer, params JobSubmission, counter *countingWriter) error {
	for _, field := range params.formFields() {
		if err := mw.WriteField(field.name, field.value); err != nil {
			return fmt.Errorf("failed to write form field %q: %w", field.name, err)
		}
	}

	for _, file := range params.Files {
		if err := writeFilePart(mw, file, counter); err != nil {
			return err
		}
	}

	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, file string, counter *countingWriter) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="files"; filename=%q`, filepath.Base(file)))
	header.Set("Content-Type", "application/octet-stream")

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}

	handle, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer handle.Close()

	if _, err := io.Copy(io.MultiWriter(part, counter), handle); err != nil {
		return fmt.Errorf("failed to stream input file %q: %w", file, err)
	}
	return nil
}
