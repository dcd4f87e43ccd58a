package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// HackerNews collects top stories from the official Firebase API.
type HackerNews struct {
	client   *http.Client
	baseURL  string
	maxItems int // 0 means all IDs the API returns
	workers  int
}

// NewHackerNews creates a new HN adapter with a fixed-size fetch pool.
func NewHackerNews(baseURL string, maxItems, workers int) *HackerNews {
	if baseURL == "" {
		baseURL = "https://hacker-news.firebaseio.com/v0"
	}
	if workers < 1 {
		workers = 20
	}
	return &HackerNews{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxItems: maxItems,
		workers:  workers,
	}
}

// hnItem is the raw API payload for stories and comments alike.
type hnItem struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	By          string  `json:"by"`
	Score       int     `json:"score"`
	Time        int64   `json:"time"`
	Text        string  `json:"text"`
	Descendants int     `json:"descendants"`
	Kids        []int64 `json:"kids"`
	Dead        bool    `json:"dead"`
	Deleted     bool    `json:"deleted"`
}

// TopStories fetches the current topstories id list, then item details
// through the worker pool. Failed or non-story items are dropped; the rank
// order of the id list is preserved for the survivors. A failure fetching
// the id list itself is fatal to the whole HN window.
func (h *HackerNews) TopStories(ctx context.Context) ([]Story, error) {
	ids, err := h.fetchTopIDs(ctx)
	if err != nil {
		return nil, err
	}
	if h.maxItems > 0 && len(ids) > h.maxItems {
		ids = ids[:h.maxItems]
	}

	// Each worker owns exactly one slot of the results slice; no other
	// shared mutable state.
	results := make([]*hnItem, len(ids))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			item, err := h.fetchItem(gCtx, id)
			if err != nil {
				return nil // drop this item, keep the run going
			}
			results[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch hn items: %w", err)
	}

	var stories []Story
	for rank, item := range results {
		if item == nil || item.Type != "story" {
			continue
		}
		title := NormalizeText(item.Title)
		if title == "" {
			continue
		}

		var itemTime time.Time
		if item.Time > 0 {
			itemTime = time.Unix(item.Time, 0).UTC()
		}
		stories = append(stories, Story{
			Rank:         rank + 1,
			ID:           item.ID,
			Title:        title,
			URL:          NormalizeText(item.URL),
			Author:       NormalizeText(item.By),
			Score:        item.Score,
			CommentCount: item.Descendants,
			Time:         itemTime,
			Text:         item.Text,
			Type:         item.Type,
		})
	}

	// Dropped items leave rank holes; renumber so stored ranks stay 1..N.
	for i := range stories {
		stories[i].Rank = i + 1
	}
	return stories, nil
}

func (h *HackerNews) fetchTopIDs(ctx context.Context) ([]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/topstories.json", nil)
	if err != nil {
		return nil, fmt.Errorf("create topstories request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch hn top stories: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hn topstories status %d", resp.StatusCode)
	}

	var ids []int64
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode hn top stories: %w", err)
	}
	return ids, nil
}

func (h *HackerNews) fetchItem(ctx context.Context, id int64) (*hnItem, error) {
	url := fmt.Sprintf("%s/item/%d.json", h.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create hn item request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch hn item %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hn item %d status %d", id, resp.StatusCode)
	}

	var item hnItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decode hn item %d: %w", id, err)
	}
	if item.ID == 0 {
		return nil, fmt.Errorf("hn item %d: empty payload", id)
	}
	return &item, nil
}
