package manager

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nvelluri/parget/internal/utils"
)

// ProbeError means the resource metadata could not be resolved: unreachable
// server, error status, or no usable content length.
type ProbeError struct {
	Detail string
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe failed: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("probe failed: %s", e.Detail)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

type fileInfo struct {
	size         int64
	acceptRanges bool
	filename     string
}

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// probe resolves total size and range support. HEAD first; some servers omit
// Content-Length there, so a ranged GET (bytes=0-0) is the fallback, reading
// the total from Content-Range.
func probe(link string, client utils.HTTPDoer) (*fileInfo, error) {
	info, err := headProbe(link, client)
	if err == nil {
		return info, nil
	}
	log.Debug().Str("op", "manager/probe").Err(err).Msg("HEAD probe failed, retrying with ranged GET")
	return rangedProbe(link, client)
}

func headProbe(link string, client utils.HTTPDoer) (*fileInfo, error) {
	req, err := http.NewRequest("HEAD", link, nil)
	if err != nil {
		return nil, &ProbeError{Detail: "building HEAD request", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProbeError{Detail: "resource unreachable", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &ProbeError{Detail: fmt.Sprintf("server returned status %d", resp.StatusCode)}
	}
	size, err := parseContentLength(resp.Header.Get("Content-Length"))
	if err != nil {
		return nil, &ProbeError{Detail: "no usable Content-Length in HEAD response", Err: err}
	}
	return &fileInfo{
		size:         size,
		acceptRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		filename:     filenameFromResponse(resp),
	}, nil
}

func rangedProbe(link string, client utils.HTTPDoer) (*fileInfo, error) {
	req, err := http.NewRequest("GET", link, nil)
	if err != nil {
		return nil, &ProbeError{Detail: "building probe request", Err: err}
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProbeError{Detail: "resource unreachable", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &ProbeError{Detail: fmt.Sprintf("server returned status %d", resp.StatusCode)}
	}

	info := &fileInfo{filename: filenameFromResponse(resp)}
	if resp.StatusCode == http.StatusPartialContent {
		// A 206 implies range support; the full size sits after the slash
		// in Content-Range: bytes 0-0/12345.
		info.acceptRanges = true
		cr := resp.Header.Get("Content-Range")
		parts := strings.Split(cr, "/")
		if len(parts) != 2 {
			return nil, &ProbeError{Detail: fmt.Sprintf("malformed Content-Range %q", cr)}
		}
		total, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || total <= 0 {
			return nil, &ProbeError{Detail: fmt.Sprintf("malformed Content-Range %q", cr), Err: err}
		}
		info.size = total
		return info, nil
	}

	info.acceptRanges = resp.Header.Get("Accept-Ranges") == "bytes"
	size, err := parseContentLength(resp.Header.Get("Content-Length"))
	if err != nil {
		return nil, &ProbeError{Detail: "server reported no content length", Err: err}
	}
	info.size = size
	return info, nil
}

func parseContentLength(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("missing Content-Length header")
	}
	size, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, fmt.Errorf("invalid file size %d reported by server", size)
	}
	return size, nil
}

// filenameFromURL falls back to the last path segment of the URL.
func filenameFromURL(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return "download"
	}
	parts := strings.Split(parsed.Path, "/")
	name := parts[len(parts)-1]
	if name == "" {
		return "download"
	}
	return name
}

// filenameFromResponse extracts a sanitized filename suggestion from
// Content-Disposition, empty when the server offers none.
func filenameFromResponse(resp *http.Response) string {
	contentDisposition := resp.Header.Get("Content-Disposition")
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return filenameRegex.ReplaceAllString(unescaped, "_")
	}
	return ""
}
