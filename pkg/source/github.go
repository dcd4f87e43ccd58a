package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// GitHub scrapes the GitHub trending page for ranked repositories.
type GitHub struct {
	client  *http.Client
	baseURL string
	limits  map[Window]int
}

// NewGitHub creates a new GitHub trending adapter. limits caps how many
// repositories are kept per window; a missing window defaults to 10.
func NewGitHub(baseURL string, limits map[Window]int) *GitHub {
	if baseURL == "" {
		baseURL = "https://github.com"
	}
	return &GitHub{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		limits:  limits,
	}
}

// Fetch returns the rank-ordered trending repositories for one window.
// A transport or parse failure is fatal to this window only; other windows
// are fetched independently by the caller.
func (g *GitHub) Fetch(ctx context.Context, window Window) ([]Repo, error) {
	if !window.Valid() {
		return nil, fmt.Errorf("unsupported github window: %s", window)
	}

	reqURL := fmt.Sprintf("%s/trending?since=%s", g.baseURL, window)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create trending request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; trendigest/2.0)")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch github trending %s: %w", window, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github trending %s status %d", window, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse github trending %s: %w", window, err)
	}

	limit := g.limits[window]
	if limit <= 0 {
		limit = 10
	}

	var repos []Repo
	doc.Find("article.Box-row").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(repos) >= limit {
			return false
		}

		link := sel.Find("h2 a").First()
		href, _ := link.Attr("href")
		repoPath := strings.Trim(NormalizeText(href), "/")
		if repoPath == "" {
			return true
		}

		description := NormalizeText(sel.Find("p").First().Text())
		if description == "" {
			description = "No description"
		}
		language := NormalizeText(sel.Find("[itemprop='programmingLanguage']").First().Text())
		if language == "" {
			language = "Unknown"
		}
		stars := NormalizeText(sel.Find("a[href$='/stargazers']").First().Text())
		if stars == "" {
			stars = "N/A"
		}
		periodStars := NormalizeText(sel.Find("span.d-inline-block.float-sm-right").First().Text())

		repos = append(repos, Repo{
			Rank:        len(repos) + 1,
			FullName:    repoPath,
			URL:         "https://github.com/" + repoPath,
			Description: description,
			Language:    language,
			Stars:       stars,
			PeriodStars: periodStars,
		})
		return true
	})

	return repos, nil
}
