package github

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ReviewAddressedMarker tags automated replies to review comments so the
// feedback loop never re-answers a comment it already handled.
const ReviewAddressedMarker = "<!-- cco-review-addressed -->"

// Review is a submitted PR review.
type Review struct {
	ID          int64     `json:"id"`
	State       string    `json:"state"` // APPROVED, CHANGES_REQUESTED, COMMENTED
	Body        string    `json:"body"`
	SubmittedAt time.Time `json:"submitted_at"`
	User        struct {
		Login string `json:"login"`
	} `json:"user"`
}

// ReviewComment is an inline comment anchored to a file and line.
type ReviewComment struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	InReplyTo int64     `json:"in_reply_to_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GetPullRequestReviews returns all reviews on a PR, oldest first.
func (c *Client) GetPullRequestReviews(ctx context.Context, number int) ([]Review, error) {
	var all []Review
	for page := 1; ; page++ {
		var batch []Review
		url := c.repoURL("/pulls/%d/reviews?per_page=100&page=%d", number, page)
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &batch); err != nil {
			return nil, fmt.Errorf("list reviews on PR #%d: %w", number, err)
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// GetPullRequestComments returns all inline review comments on a PR.
func (c *Client) GetPullRequestComments(ctx context.Context, number int) ([]ReviewComment, error) {
	var all []ReviewComment
	for page := 1; ; page++ {
		var batch []ReviewComment
		url := c.repoURL("/pulls/%d/comments?per_page=100&page=%d", number, page)
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &batch); err != nil {
			return nil, fmt.Errorf("list review comments on PR #%d: %w", number, err)
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// ReplyToReviewComment answers one inline comment in its thread.
func (c *Client) ReplyToReviewComment(ctx context.Context, number int, commentID int64, body string) error {
	req := map[string]string{"body": body}
	url := c.repoURL("/pulls/%d/comments/%d/replies", number, commentID)
	if err := c.doJSON(ctx, http.MethodPost, url, req, nil); err != nil {
		return fmt.Errorf("reply to review comment %d on PR #%d: %w", commentID, number, err)
	}
	return nil
}
