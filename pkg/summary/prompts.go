package summary

import (
	"fmt"
	"strings"

	"github.com/rkoval/trendigest/pkg/source"
)

const repoPromptTemplate = `Analyze this GitHub repository and provide a two-paragraph summary.

Repository: %s
Description: %s

README content:
%s

Write exactly two paragraphs:
1. First paragraph: Explain what this project does, key features, and how it works technically.
2. Second paragraph: Explain who would benefit from this project and why it is trending.

Keep each paragraph concise (3-4 sentences). Use a professional, informative tone.`

const storyPromptTemplate = `Summarize this Hacker News story in exactly two paragraphs.

Title: %s
Source URL: %s
Author: %s
Points: %d
Comments: %d
Story text (if available):
%s

Write exactly two paragraphs:
1. First paragraph: Explain what the story appears to be about and the key technical/business context.
2. Second paragraph: Explain why Hacker News readers might find it interesting or important.

Keep each paragraph concise (3-4 sentences) and avoid hype.`

const commentPromptTemplate = `Analyze this Hacker News discussion sample and provide exactly 4 concise bullet points.

Story title: %s
Story URL: %s
Total comments in thread: %d
Sample size: %d

Comment sample:
%s

Return exactly 4 bullet points:
- Bullet 1: Core consensus or dominant viewpoint.
- Bullet 2: Strongest disagreement or competing view.
- Bullet 3: Practical technical takeaway.
- Bullet 4: Caveat about sample bias/coverage.

Rules:
- One sentence per bullet.
- 18-35 words per bullet.
- No hype or marketing language.
- Do not quote usernames.
`

func repoPrompt(fullName, description, readme string) string {
	cleaned := CleanReadme(readme)
	if len(cleaned) > readmeMaxLen {
		cleaned = cleaned[:readmeMaxLen] + "..."
	}
	return fmt.Sprintf(repoPromptTemplate, fullName, description, cleaned)
}

func storyPrompt(title, url, author string, score, comments int, text string) string {
	if url == "" {
		url = "N/A"
	}
	if len(text) > 5000 {
		text = text[:5000] + "..."
	}
	if text == "" {
		text = "N/A"
	}
	return fmt.Sprintf(storyPromptTemplate, title, url, author, score, comments, text)
}

func commentPrompt(title, url string, total int, sample []source.Comment) string {
	if url == "" {
		url = "N/A"
	}
	var lines []string
	for i, c := range sample {
		by := c.By
		if by == "" {
			by = "unknown"
		}
		lines = append(lines, fmt.Sprintf("[%d] depth=%d top_thread=%d by=%s: %s",
			i+1, c.Depth, c.RootPos, by, c.Text))
	}
	return fmt.Sprintf(commentPromptTemplate, title, url, total, len(sample), strings.Join(lines, "\n\n"))
}
