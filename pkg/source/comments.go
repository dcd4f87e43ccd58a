package source

import (
	"context"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CommentBounds limits the discussion-tree traversal and sample selection.
// Zero values fall back to the documented defaults.
type CommentBounds struct {
	MaxNodes     int // nodes visited during traversal
	MaxDepth     int // traversal depth; checked before descending
	MaxPerBranch int // children expanded per node, and sample cap per top-level branch
	MinTextLen   int // minimum cleaned text length for a comment to be eligible
	SampleSize   int // comments kept in the final sample
}

func (b CommentBounds) withDefaults() CommentBounds {
	if b.MaxNodes <= 0 {
		b.MaxNodes = 300
	}
	if b.MaxDepth <= 0 {
		b.MaxDepth = 6
	}
	if b.MaxPerBranch <= 0 {
		b.MaxPerBranch = 4
	}
	if b.MinTextLen <= 0 {
		b.MinTextLen = 40
	}
	if b.SampleSize <= 0 {
		b.SampleSize = 16
	}
	return b
}

// Comment is one eligible node collected from a story's discussion tree.
type Comment struct {
	ID         int64
	By         string
	Depth      int
	RootPos    int // 1-based position of the comment's top-level branch
	ReplyCount int
	Text       string
}

// SampleComments traverses the discussion tree of a story under the given
// bounds and returns the total comment count plus a deterministic sample.
// Two calls against an unchanged tree with equal bounds produce identical
// ordered samples; comment-analysis cache keys depend on that.
func (h *HackerNews) SampleComments(ctx context.Context, storyID int64, totalHint int, bounds CommentBounds) (int, []Comment, error) {
	bounds = bounds.withDefaults()

	story, err := h.fetchItem(ctx, storyID)
	if err != nil {
		return totalHint, nil, err
	}

	total := story.Descendants
	if total == 0 {
		total = totalHint
	}
	if len(story.Kids) == 0 {
		return total, nil, nil
	}

	nodes := h.traverse(ctx, story.Kids, bounds)
	return total, selectCommentSample(nodes, bounds), nil
}

// traverse walks the comment tree depth-first in document order with an
// explicit stack. Depth and node-count bounds are checked before each
// descent, so termination never depends on the call stack or on the source
// data being acyclic.
func (h *HackerNews) traverse(ctx context.Context, topKids []int64, bounds CommentBounds) []Comment {
	type frame struct {
		id      int64
		depth   int
		rootPos int
	}

	// Push top-level branches in reverse so the stack pops them in order.
	stack := make([]frame, 0, len(topKids))
	for i := len(topKids) - 1; i >= 0; i-- {
		stack = append(stack, frame{id: topKids[i], depth: 1, rootPos: i + 1})
	}

	var nodes []Comment
	visited := make(map[int64]bool)
	fetched := 0

	for len(stack) > 0 && fetched < bounds.MaxNodes {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[f.id] || f.depth > bounds.MaxDepth {
			continue
		}
		visited[f.id] = true
		fetched++

		comment, err := h.fetchItem(ctx, f.id)
		if err != nil || comment.Type != "comment" || comment.Dead || comment.Deleted {
			continue
		}

		// Descend before eligibility: a too-short comment can still have
		// replies worth sampling. Children past the branch bound are not
		// expanded.
		kids := comment.Kids
		if len(kids) > bounds.MaxPerBranch {
			kids = kids[:bounds.MaxPerBranch]
		}
		if f.depth < bounds.MaxDepth {
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, frame{id: kids[i], depth: f.depth + 1, rootPos: f.rootPos})
			}
		}

		text := CleanHTMLText(comment.Text)
		if len(text) < bounds.MinTextLen {
			continue
		}

		nodes = append(nodes, Comment{
			ID:         f.id,
			By:         NormalizeText(comment.By),
			Depth:      f.depth,
			RootPos:    f.rootPos,
			ReplyCount: len(comment.Kids),
			Text:       text,
		})
	}

	return nodes
}

// selectCommentSample keeps a branch-diverse, high-signal subset. Scoring
// favors top-level context, longer texts, and well-replied comments, with a
// bonus for early branches; selection caps each top-level branch and drops
// near-duplicate texts.
func selectCommentSample(nodes []Comment, bounds CommentBounds) []Comment {
	if len(nodes) == 0 {
		return nil
	}

	signal := func(c Comment) float64 {
		depthBonus := 0.3
		switch c.Depth {
		case 1:
			depthBonus = 1.2
		case 2:
			depthBonus = 0.7
		}
		lenBonus := float64(min(len(c.Text), 900)) / 220
		replyBonus := float64(min(c.ReplyCount, 10)) / 4
		orderBonus := float64(max(0, 14-c.RootPos)) / 14
		return depthBonus + lenBonus + replyBonus + orderBonus
	}

	ranked := make([]Comment, len(nodes))
	copy(ranked, nodes)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := signal(ranked[i]), signal(ranked[j])
		if si != sj {
			return si > sj
		}
		if len(ranked[i].Text) != len(ranked[j].Text) {
			return len(ranked[i].Text) > len(ranked[j].Text)
		}
		return ranked[i].ID < ranked[j].ID
	})

	var selected []Comment
	branchCounts := make(map[int]int)
	textSeen := make(map[string]bool)
	for _, c := range ranked {
		if branchCounts[c.RootPos] >= bounds.MaxPerBranch {
			continue
		}
		dedupe := strings.ToLower(c.Text)
		if len(dedupe) > 200 {
			dedupe = dedupe[:200]
		}
		if textSeen[dedupe] {
			continue
		}

		selected = append(selected, c)
		branchCounts[c.RootPos]++
		textSeen[dedupe] = true

		if len(selected) >= bounds.SampleSize {
			break
		}
	}
	return selected
}

// CleanHTMLText flattens item or comment HTML into normalized plain text.
func CleanHTMLText(raw string) string {
	if raw == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return NormalizeText(raw)
	}
	return NormalizeText(doc.Text())
}
