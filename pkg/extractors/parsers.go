package extractors

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/audiobook-herald/internal/domain"
)

// Parser types a source can be configured with.
const (
	TypeProductGrid = "adbl_product_grid"
	TypeProductList = "adbl_product_list"
)

// ParseProductGrid reads the web-component grid used by promotional pages
// such as Free Listens.
func ParseProductGrid(body []byte, base *url.URL) ([]domain.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []domain.RawListing
	doc.Find("adbl-product-grid-item").Each(func(_ int, item *goquery.Selection) {
		link := item.Find(`adbl-metadata[slot="title"] a`).First()
		if link.Length() == 0 {
			return
		}
		out = append(out, domain.RawListing{
			Title:  strings.TrimSpace(link.Text()),
			Author: joinText(item.Find(`adbl-metadata[slot="author"] a`)),
			URL:    resolveLink(base, link),
		})
	})
	return out, nil
}

// ParseProductList reads the classic search result list used by catalog
// pages such as the Plus catalog.
func ParseProductList(body []byte, base *url.URL) ([]domain.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []domain.RawListing
	doc.Find("li.productListItem").Each(func(_ int, item *goquery.Selection) {
		link := item.Find("h3 a").First()
		if link.Length() == 0 {
			return
		}
		out = append(out, domain.RawListing{
			Title:  strings.TrimSpace(link.Text()),
			Author: joinText(item.Find("li.authorLabel a")),
			URL:    resolveLink(base, link),
		})
	})
	return out, nil
}

// resolveLink makes the href of sel absolute against the scheme and host of
// base. The query is kept; canonicalization happens in discovery.
func resolveLink(base *url.URL, sel *goquery.Selection) string {
	href, _ := sel.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() || base == nil {
		return ref.String()
	}
	origin := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	return origin.ResolveReference(ref).String()
}

func joinText(sel *goquery.Selection) string {
	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, ", ")
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse source_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("source_url %q must be absolute", raw)
	}
	return u, nil
}
