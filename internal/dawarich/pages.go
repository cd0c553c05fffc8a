package dawarich

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is a fetched HTML document together with the URL it was served from
// after redirects.
type Page struct {
	URL    *url.URL
	Status int
	Body   []byte
}

// Document parses the page body.
func (p *Page) Document() (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
}

// ImportTarget is what the import form exposes: the CSRF token to echo back
// and the endpoint that issues direct upload slots.
type ImportTarget struct {
	Token     string
	UploadURL string
	FormURL   string
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// signInToken returns the authenticity token of the sign-in form.
func signInToken(doc *goquery.Document) string {
	return inputToken(doc.Selection)
}

// importToken prefers the csrf-token meta tag and falls back to the hidden
// form input.
func importToken(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[name="csrf-token"]`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return inputToken(doc.Selection)
}

func inputToken(sel *goquery.Selection) string {
	v, _ := sel.Find(`input[name="authenticity_token"]`).First().Attr("value")
	return strings.TrimSpace(v)
}

// directUploadURL returns the direct upload endpoint advertised by the import
// form, resolved against base.
func directUploadURL(doc *goquery.Document, base *url.URL) string {
	form := doc.Find(`form[data-controller~="direct-upload"]`).First()
	raw, ok := form.Attr("data-direct-upload-url-value")
	if !ok {
		raw, ok = doc.Find(`input[data-direct-upload-url]`).First().Attr("data-direct-upload-url")
	}
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return ""
	}
	return resolve(base, raw)
}

// remoteVersion extracts the server version from the page footer or the
// release link in the navigation bar. Empty means not found.
func remoteVersion(doc *goquery.Document) string {
	var found string
	doc.Find(`a[href*="/releases"], .version, [data-version]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		candidates := []string{s.Text()}
		if v, ok := s.Attr("data-version"); ok {
			candidates = append([]string{v}, candidates...)
		}
		if href, ok := s.Attr("href"); ok {
			candidates = append(candidates, href)
		}
		for _, c := range candidates {
			if m := versionPattern.FindString(c); m != "" {
				found = m
				return false
			}
		}
		return true
	})
	return found
}

// loginFailed reports whether the response to the sign-in POST still shows
// the failure notice.
func loginFailed(body []byte, marker string) bool {
	return marker != "" && bytes.Contains(body, []byte(marker))
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
