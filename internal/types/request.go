package types

import (
	"mime"
	"net/url"
	"path"
	"strings"
	"time"
)

// CrawlerRequest is one inbound access event. Immutable once built.
type CrawlerRequest struct {
	Domain    string            `json:"domain"`
	URL       string            `json:"url"`
	BotID     string            `json:"botId,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	IPAddress string            `json:"ipAddress,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Metadata  *Metadata         `json:"metadata,omitempty"`
}

// Header looks up a header name case-insensitively.
func (r *CrawlerRequest) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Referer returns the Referer header, falling back to metadata "referer".
func (r *CrawlerRequest) Referer() string {
	if v := r.Header("Referer"); v != "" {
		return v
	}
	return r.Metadata.GetString("referer")
}

var extensionTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".xml":  "application/xml",
	".rss":  "application/rss+xml",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".pdf":  "application/pdf",
	".csv":  "text/csv",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
}

// ContentType derives the requested media type: metadata "contentType", then
// the Content-Type header, then the first Accept entry, then the URL extension.
// Parameters such as charset are stripped. Returns "" when nothing applies.
func (r *CrawlerRequest) ContentType() string {
	for _, candidate := range []string{
		r.Metadata.GetString("contentType"),
		r.Header("Content-Type"),
		firstAccept(r.Header("Accept")),
	} {
		if mt := mediaType(candidate); mt != "" {
			return mt
		}
	}

	p := r.URL
	if u, err := url.Parse(r.URL); err == nil {
		p = u.Path
	}
	return extensionTypes[strings.ToLower(path.Ext(p))]
}

func firstAccept(accept string) string {
	first, _, _ := strings.Cut(accept, ",")
	if strings.TrimSpace(first) == "*/*" {
		return ""
	}
	return first
}

func mediaType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(v)
	}
	return mt
}

// RuleExecutionContext is the input to one evaluation.
type RuleExecutionContext struct {
	PublisherID PublisherID    `json:"publisherId"`
	Request     CrawlerRequest `json:"request"`
	// Timestamp drives eligibility and time conditions. Zero means now.
	Timestamp time.Time `json:"timestamp"`
}
