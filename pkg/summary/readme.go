package summary

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/rkoval/trendigest/pkg/source"
)

// readmeMaxLen caps how much cleaned README text goes into a prompt.
const readmeMaxLen = 8000

var (
	readmeLinkOnly  = regexp.MustCompile(`^\[.*\]\(https?://.*\)$`)
	readmeRuleLine  = regexp.MustCompile(`^[-=_]{3,}$`)
	readmeTableSep  = regexp.MustCompile(`^\|[-:| ]+\|$`)
	readmeImage     = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	readmeLink      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	readmeHTMLTag   = regexp.MustCompile(`<[^>]+>`)
	readmeBold      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	readmeItalic    = regexp.MustCompile(`\*([^*]+)\*`)
	readmeUnderBold = regexp.MustCompile(`__([^_]+)__`)
	readmeUnder     = regexp.MustCompile(`_([^_]+)_`)
	readmeCode      = regexp.MustCompile("`([^`]+)`")
)

// fetchReadme tries the likely default-branch README locations and returns
// the first hit, or "" when none resolve. Misses are not errors; a summary
// can be generated from the description alone.
func fetchReadme(ctx context.Context, client *http.Client, repoPath string) string {
	candidates := []string{
		fmt.Sprintf("https://raw.githubusercontent.com/%s/main/README.md", repoPath),
		fmt.Sprintf("https://raw.githubusercontent.com/%s/master/README.md", repoPath),
		fmt.Sprintf("https://raw.githubusercontent.com/%s/main/readme.md", repoPath),
		fmt.Sprintf("https://raw.githubusercontent.com/%s/master/readme.md", repoPath),
		fmt.Sprintf("https://raw.githubusercontent.com/%s/main/README.rst", repoPath),
		fmt.Sprintf("https://raw.githubusercontent.com/%s/master/README.rst", repoPath),
	}

	for _, url := range candidates {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err == nil {
				return string(body)
			}
			continue
		}
		resp.Body.Close()
	}
	return ""
}

// CleanReadme strips badges, images, markup and link noise from README text
// so the prompt carries prose, not decoration.
func CleanReadme(text string) string {
	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if strings.HasPrefix(stripped, "![") {
			continue
		}
		lower := strings.ToLower(stripped)
		if strings.Contains(stripped, "shields.io") || strings.Contains(lower, "badge") {
			continue
		}
		if strings.HasPrefix(stripped, "<") && strings.Contains(stripped, ">") {
			continue
		}
		if readmeLinkOnly.MatchString(stripped) || readmeRuleLine.MatchString(stripped) || readmeTableSep.MatchString(stripped) {
			continue
		}

		stripped = readmeImage.ReplaceAllString(stripped, "")
		stripped = readmeLink.ReplaceAllString(stripped, "$1")
		stripped = readmeHTMLTag.ReplaceAllString(stripped, "")
		stripped = readmeBold.ReplaceAllString(stripped, "$1")
		stripped = readmeItalic.ReplaceAllString(stripped, "$1")
		stripped = readmeUnderBold.ReplaceAllString(stripped, "$1")
		stripped = readmeUnder.ReplaceAllString(stripped, "$1")
		stripped = readmeCode.ReplaceAllString(stripped, "$1")

		stripped = source.NormalizeText(stripped)
		if len(stripped) > 2 {
			cleaned = append(cleaned, stripped)
		}
	}
	return strings.Join(cleaned, "\n")
}
