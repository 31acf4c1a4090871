package download

import (
	"fmt"
	"hash/fnv"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// filenameFromDisposition extracts a usable filename from a
// Content-Disposition header value. Handles both the quoted filename
// parameter and the RFC 2231 filename* form.
func filenameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return sanitizeFilename(params["filename"])
}

// filenameFromURL derives a filename from the request URL: the
// percent-decoded path basename, then a filename query parameter, then a
// stable hash of the URL as a last resort.
func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return hashedFilename(rawURL)
	}

	decoded, err := url.PathUnescape(u.Path)
	if err != nil {
		decoded = u.Path
	}
	name := sanitizeFilename(path.Base(decoded))
	if name != "" && name != "." && name != "/" {
		return name
	}

	if qn := sanitizeFilename(u.Query().Get("filename")); qn != "" {
		return qn
	}
	return hashedFilename(rawURL)
}

func hashedFilename(rawURL string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(rawURL))
	return fmt.Sprintf("download_%08x", h.Sum32())
}

func sanitizeFilename(name string) string {
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	return strings.TrimSpace(name)
}
