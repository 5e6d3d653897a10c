// Package wiki fetches plain-text article extracts from a prioritized
// list of MediaWiki sites. All sites are queried concurrently; the reply
// comes from the first site in priority order that knows the title.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// sentenceBoundaries detects whether an extract contains at least one
// full sentence. Based on code from OpenSearchXml by Brion Vibber.
var sentenceBoundaries = regexp.MustCompile(`[.!?](?:[ \n]|$)|[。．！？｡]`)

// extractNoise removes TeX leftovers and indented-line runs.
var extractNoise = regexp.MustCompile(`\{\\displaystyle.+\}|(\n +)+`)

// Page is one article returned by the extracts API. Extract is nil for
// titles the site does not know.
type Page struct {
	PageID    int64
	Title     string
	Extract   *string
	Thumbnail string
}

// Site is one MediaWiki endpoint plus the writing-script gate deciding
// which titles are worth sending to it.
type Site struct {
	Host   string
	api    string
	script *regexp.Regexp
	client *http.Client
}

// NewSite builds a site from its host name and writing-script pattern.
// Titles not matching the pattern are never sent to the site.
func NewSite(host, scriptPattern string) (*Site, error) {
	script, err := regexp.Compile(scriptPattern)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", host, err)
	}
	return &Site{
		Host:   host,
		api:    "https://" + host + "/w/api.php",
		script: script,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Extracts runs one extracts|pageimages query. Pages come back sorted by
// page id so missing titles (negative ids) sort first.
func (s *Site) Extracts(ctx context.Context, overrides url.Values) ([]Page, error) {
	params := url.Values{
		"format":        {"json"},
		"action":        {"query"},
		"prop":          {"extracts|pageimages"},
		"piprop":        {"thumbnail"},
		"pithumbsize":   {"800"},
		"uselang":       {"zh-cn"},
		"converttitles": {"1"},
		"redirects":     {"1"},
		"explaintext":   {"1"},
		"exintro":       {"1"},
		"exsentences":   {"2"},
	}
	for k, vs := range overrides {
		if len(vs) == 1 && vs[0] == "" {
			params.Del(k)
		} else {
			params[k] = vs
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.api+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", s.Host, resp.Status)
	}

	var envelope struct {
		Query struct {
			Pages map[string]struct {
				PageID    int64   `json:"pageid"`
				Title     string  `json:"title"`
				Extract   *string `json:"extract"`
				Thumbnail struct {
					Source string `json:"source"`
				} `json:"thumbnail"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", s.Host, err)
	}

	pages := make([]Page, 0, len(envelope.Query.Pages))
	for key, p := range envelope.Query.Pages {
		id := p.PageID
		if id == 0 {
			id, _ = strconv.ParseInt(key, 10, 64)
		}
		pages = append(pages, Page{
			PageID:    id,
			Title:     p.Title,
			Extract:   p.Extract,
			Thumbnail: p.Thumbnail.Source,
		})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageID < pages[j].PageID })
	return pages, nil
}

// intro queries the two-sentence intro extracts for a "|"-separated
// title list, or nothing when the titles fail the writing-script gate.
func (s *Site) intro(ctx context.Context, titles string) ([]Page, error) {
	if !s.script.MatchString(titles) {
		return nil, nil
	}
	return s.Extracts(ctx, url.Values{"titles": {titles}})
}

// full re-queries a page without the intro/sentence limits.
func (s *Site) full(ctx context.Context, pageID int64) (Page, error) {
	pages, err := s.Extracts(ctx, url.Values{
		"pageids":     {strconv.FormatInt(pageID, 10)},
		"exintro":     {""},
		"exsentences": {""},
	})
	if err != nil {
		return Page{}, err
	}
	if len(pages) == 0 {
		return Page{}, fmt.Errorf("%s: page %d vanished", s.Host, pageID)
	}
	return pages[0], nil
}

// Client fans queries out over a fixed priority order of sites.
type Client struct {
	Sites []*Site
}

// ExpandTitles turns a single query term into the "|"-separated title
// list sent to each site. Rail-line shorthand gets its full form added.
func ExpandTitles(term string) string {
	if strings.HasSuffix(term, "线") {
		return term + "|" + strings.TrimSuffix(term, "线") + "铁路"
	}
	return term
}

// Search queries every site concurrently and renders the first article
// found, walking the sites in priority order. Slower sites keep running
// in the background once a winner is picked; their results are dropped.
func (c *Client) Search(ctx context.Context, term string) (string, bool) {
	if term == "" {
		return "", false
	}
	titles := ExpandTitles(term)

	type result struct {
		pages []Page
		err   error
	}
	results := make([]chan result, len(c.Sites))
	for i, site := range c.Sites {
		ch := make(chan result, 1)
		results[i] = ch
		go func(site *Site) {
			pages, err := site.intro(ctx, titles)
			ch <- result{pages: pages, err: err}
		}(site)
	}

	for i, site := range c.Sites {
		res := <-results[i]
		if res.err != nil {
			continue
		}
		for _, page := range res.pages {
			if page.Extract == nil {
				continue
			}
			return c.render(ctx, site, page), true
		}
	}
	return "", false
}

// render cleans up a winning extract, falling back to the first five
// lines of the full article when the intro has no complete sentence.
func (c *Client) render(ctx context.Context, site *Site, page Page) string {
	extract := *page.Extract
	if !sentenceBoundaries.MatchString(extract) {
		if fullPage, err := site.full(ctx, page.PageID); err == nil && fullPage.Extract != nil {
			extract = firstLines(*fullPage.Extract, 5)
		}
	}
	extract = extractNoise.ReplaceAllString(extract, " ")
	if page.Thumbnail != "" {
		extract += fmt.Sprintf("[CQ:image,file=%s]", page.Thumbnail)
	}
	return extract
}

func firstLines(s string, n int) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return strings.Join(lines, "\n")
}
