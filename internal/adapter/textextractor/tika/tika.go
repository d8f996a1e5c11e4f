// Package tika provides Apache Tika integration for text extraction.
//
// It extracts text content from uploaded resumes (PDF and friends) via
// PUT /tika with Accept: text/plain. See https://tika.apache.org/server/.
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-job-matcher/pkg/textx"
)

// Client is a minimal Apache Tika HTTP client implementing domain.TextExtractor.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Tika client with a default timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// resolvePath constrains the readable path to the system temp dir or the
// working directory. Uploaded resumes are spooled to the temp dir, so
// anything outside it is a programming error, not a legitimate input.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	tmp := filepath.Clean(os.TempDir())
	wd, _ := os.Getwd()
	wd = filepath.Clean(wd)
	for _, base := range []string{tmp, wd} {
		if abs == base || strings.HasPrefix(abs, base+string(os.PathSeparator)) {
			rel, err := filepath.Rel(base, abs)
			if err != nil {
				return "", err
			}
			return filepath.Join(base, rel), nil
		}
	}
	return "", fmt.Errorf("disallowed path: %s", abs)
}

// ExtractPath uploads the file at path to the Tika server and returns plain
// text with whitespace collapsed.
func (c *Client) ExtractPath(ctx context.Context, fileName, path string) (string, error) {
	openPath, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	bfile, err := os.ReadFile(openPath)
	if err != nil {
		return "", err
	}

	u := c.baseURL
	if u == "" {
		u = "http://localhost:9998"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u+"/tika", bytes.NewReader(bfile))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")
	if ct := contentTypeFromExt(filepath.Ext(fileName)); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=tika.extract: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("op=tika.extract: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("op=tika.extract: %w", err)
	}
	sanitized := textx.SanitizeText(string(b))
	return strings.Join(strings.Fields(sanitized), " "), nil
}

func contentTypeFromExt(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		if ext != "" {
			return mime.TypeByExtension(ext)
		}
	}
	return ""
}
