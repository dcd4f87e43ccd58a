// Package backfill reconstructs historical daily runs from previously
// published page documents. It runs at most once per deployment, writes
// through the same store primitives as live ingestion, and isolates
// per-page failures so one malformed page cannot sink the batch.
package backfill

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/rkoval/trendigest/internal/store"
	"github.com/rkoval/trendigest/internal/timeutil"
	"github.com/rkoval/trendigest/pkg/source"
	"github.com/rkoval/trendigest/pkg/summary"
)

var dayDirPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
var rankPattern = regexp.MustCompile(`^(\d+)\.`)

// PageRepo is one repository block extracted from a published page,
// including any summary text rendered alongside it.
type PageRepo struct {
	source.Repo
	Summary string
}

// Importer performs the one-time historical import.
type Importer struct {
	store   store.Store
	docsDir string
	model   string
	log     *slog.Logger
}

// New creates an Importer. model tags imported summary rows so cache
// selection finds them under the live (model, prompt-version) key.
func New(s store.Store, docsDir, model string, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{store: s, docsDir: docsDir, model: model, log: log}
}

// Run imports every historical daily page not yet in the store. It is a
// no-op once the completion marker is set; the marker is set only after all
// pages have been attempted, including ones that failed.
func (i *Importer) Run(ctx context.Context) error {
	done, err := i.store.GetMeta(ctx, store.BackfillCompletedKey)
	if err != nil {
		return fmt.Errorf("read backfill marker: %w", err)
	}
	if done == "1" {
		return nil
	}

	entries, err := os.ReadDir(i.docsDir)
	if os.IsNotExist(err) {
		// Nothing to import; remember that so we never look again.
		return i.store.SetMeta(ctx, store.BackfillCompletedKey, "1")
	}
	if err != nil {
		return fmt.Errorf("read docs dir %s: %w", i.docsDir, err)
	}

	var days []string
	for _, e := range entries {
		if e.IsDir() && dayDirPattern.MatchString(e.Name()) {
			days = append(days, e.Name())
		}
	}
	sort.Strings(days)

	imported, failed := 0, 0
	for _, name := range days {
		day, err := timeutil.Parse(name)
		if err != nil {
			continue
		}
		pagePath := filepath.Join(i.docsDir, name, "index.html")
		if _, err := os.Stat(pagePath); err != nil {
			continue
		}

		if err := i.importPage(ctx, day, pagePath); err != nil {
			failed++
			i.log.Error("backfill page failed", "day", name, "error", err)
			continue
		}
		imported++
	}

	if err := i.store.SetMeta(ctx, store.BackfillCompletedKey, "1"); err != nil {
		return fmt.Errorf("set backfill marker: %w", err)
	}
	i.log.Info("backfill complete", "imported", imported, "failed", failed)
	return nil
}

func (i *Importer) importPage(ctx context.Context, day time.Time, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer f.Close()

	repos, err := ParsePage(f)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		return fmt.Errorf("no repo sections found")
	}

	plain := make([]source.Repo, len(repos))
	for idx, r := range repos {
		plain[idx] = r.Repo
	}
	if _, err := i.store.CreateOrReplaceGHRun(ctx, day, source.WindowDaily, plain, "backfill"); err != nil {
		return err
	}

	// Imported summaries are stamped noon UTC of their page day so
	// freshness math treats them like any live summary of that day.
	stamp := day.Add(12 * time.Hour)
	for _, r := range repos {
		if r.Summary == "" {
			continue
		}
		repoID, err := i.store.GHRepoID(ctx, r.FullName)
		if err != nil {
			return err
		}
		if repoID == 0 {
			continue
		}
		exists, err := i.store.GHSummaryExistsForDay(ctx, repoID, i.model, summary.GHPromptVersion, day)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := i.store.PutGHSummary(ctx, repoID, i.model, summary.GHPromptVersion, r.Summary, "", stamp); err != nil {
			return err
		}
	}
	return nil
}

// ParsePage extracts ranked repository records from one published daily
// page. Rank comes from the section heading; missing ranks fall back to
// document position.
func ParsePage(r io.Reader) ([]PageRepo, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	var repos []PageRepo
	doc.Find("section.repo").Each(func(_ int, sel *goquery.Selection) {
		heading := sel.Find("h3").First()
		link := heading.Find("a").First()
		if heading.Length() == 0 || link.Length() == 0 {
			return
		}

		rank := len(repos) + 1
		if m := rankPattern.FindStringSubmatch(source.NormalizeText(heading.Text())); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				rank = n
			}
		}

		name := source.NormalizeText(link.Text())
		href, _ := link.Attr("href")
		repoURL := source.NormalizeText(href)
		if repoURL == "" {
			repoURL = "https://github.com/" + name
		}

		description := source.NormalizeText(sel.Find("p.description").First().Text())
		if description == "" {
			description = "No description"
		}
		language := source.NormalizeText(sel.Find("span.language").First().Text())
		if language == "" {
			language = "Unknown"
		}
		stars := source.NormalizeText(sel.Find("span.stars").First().Text())
		if stars == "" {
			stars = "N/A"
		}
		periodStars := source.NormalizeText(sel.Find("span.today").First().Text())

		var summaryParts []string
		sel.Find("div.ai-summary p").Each(func(_ int, p *goquery.Selection) {
			if text := source.NormalizeText(p.Text()); text != "" {
				summaryParts = append(summaryParts, text)
			}
		})

		repos = append(repos, PageRepo{
			Repo: source.Repo{
				Rank:        rank,
				FullName:    name,
				URL:         repoURL,
				Description: description,
				Language:    language,
				Stars:       stars,
				PeriodStars: periodStars,
			},
			Summary: strings.Join(summaryParts, "\n\n"),
		})
	})

	sort.SliceStable(repos, func(a, b int) bool { return repos[a].Rank < repos[b].Rank })
	return repos, nil
}
