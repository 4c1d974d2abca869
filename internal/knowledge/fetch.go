package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/moctezuma-dev/zappy-back/internal/model"
)

// URLRequest asks for a web resource to be fetched into the knowledge base.
type URLRequest struct {
	Title     string         `json:"title,omitempty"`
	URL       string         `json:"url"`
	CompanyID string         `json:"companyId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ChunkSize int            `json:"chunkSize,omitempty"`
}

// AddFromURL downloads a resource and stores its text. JSON is pretty
// printed, HTML is converted to markdown and anything else is kept verbatim.
// Without an explicit title an HTML page's <title> is used, then the URL.
func (s *Service) AddFromURL(ctx context.Context, req URLRequest) ([]*model.KnowledgeEntry, error) {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url requerida (http o https)", model.ErrValidation)
	}
	text, pageTitle, err := s.fetch(ctx, u)
	if err != nil {
		return nil, err
	}

	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["source_url"] = req.URL
	title := req.Title
	if title == "" {
		title = pageTitle
	}
	if title == "" {
		title = req.URL
	}
	return s.Add(ctx, AddRequest{
		Title:     title,
		Content:   text,
		CompanyID: req.CompanyID,
		Metadata:  meta,
		ChunkSize: req.ChunkSize,
	})
}

func (s *Service) fetch(ctx context.Context, u *url.URL) (string, string, error) {
	resp, err := s.http.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", u, err)
	}
	if !resp.IsSuccess() {
		return "", "", fmt.Errorf("%w: No se pudo descargar el recurso (%d)", model.ErrValidation, resp.StatusCode())
	}

	body := resp.Body()
	contentType := resp.Header().Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		var out bytes.Buffer
		if err := json.Indent(&out, body, "", "  "); err != nil {
			return "", "", fmt.Errorf("%w: invalid JSON from %s: %v", model.ErrValidation, u, err)
		}
		return out.String(), "", nil
	case strings.Contains(contentType, "text/html"):
		text, title := s.htmlToMarkdown(u, body)
		return text, title, nil
	default:
		return string(body), "", nil
	}
}

// htmlToMarkdown drops page chrome and converts the remaining body. Pages
// that fail to parse or convert are kept as raw HTML.
func (s *Service) htmlToMarkdown(u *url.URL, body []byte) (string, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		s.log.Warn().Err(err).Str("url", u.String()).Msg("html parse failed, keeping raw html")
		return string(body), ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, nav, footer, aside, noscript").Remove()

	conv := md.NewConverter(u.Scheme+"://"+u.Host, true, nil)
	converted := strings.TrimSpace(conv.Convert(doc.Find("body")))
	if converted == "" {
		s.log.Warn().Str("url", u.String()).Msg("html to markdown produced no text, keeping raw html")
		return string(body), title
	}
	return converted, title
}
