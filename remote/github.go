package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/signadot/issue-sync/debug"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL = "https://api.github.com"
	perPage       = 100
)

// GitHubConfig configures a GitHub client.
type GitHubConfig struct {
	Token  string
	APIURL string
	// Rate is the sustained request rate per second, 0 for the default.
	Rate    float64
	Retries int
}

// GitHub implements Client with the GitHub REST api.
type GitHub struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	retries    int
	backoff    time.Duration

	mu   sync.Mutex
	user string
}

func NewGitHub(cfg GitHubConfig) *GitHub {
	base := strings.TrimRight(cfg.APIURL, "/")
	if base == "" {
		base = DefaultAPIURL
	}
	limiter := rate.NewLimiter(rate.Every(time.Second), 5)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, int(cfg.Rate)))
	}
	return &GitHub{
		httpClient: &http.Client{},
		baseURL:    base,
		token:      cfg.Token,
		limiter:    limiter,
		retries:    cfg.Retries,
		backoff:    500 * time.Millisecond,
	}
}

type ghUser struct {
	Login string `json:"login"`
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghIssue struct {
	ID          int64     `json:"id"`
	Number      uint64    `json:"number"`
	Title       string    `json:"title"`
	Body        *string   `json:"body"`
	State       string    `json:"state"`
	StateReason *string   `json:"state_reason"`
	User        ghUser    `json:"user"`
	Labels      []ghLabel `json:"labels"`
	HTMLURL     string    `json:"html_url"`
}

func (gi *ghIssue) issue() *Issue {
	is := &Issue{
		ID:     gi.ID,
		Number: gi.Number,
		Title:  gi.Title,
		State:  State{Closed: gi.State == "closed"},
		Author: gi.User.Login,
		URL:    gi.HTMLURL,
	}
	if gi.Body != nil {
		is.Body = *gi.Body
	}
	if gi.StateReason != nil {
		is.State.Reason = *gi.StateReason
	}
	for _, l := range gi.Labels {
		is.Labels = append(is.Labels, l.Name)
	}
	return is
}

type ghComment struct {
	ID   uint64  `json:"id"`
	Body *string `json:"body"`
	User ghUser  `json:"user"`
}

func (gc *ghComment) comment() Comment {
	c := Comment{ID: gc.ID, Author: gc.User.Login}
	if gc.Body != nil {
		c.Body = *gc.Body
	}
	return c
}

func (g *GitHub) FetchIssue(ctx context.Context, owner, repo string, n uint64) (*Issue, error) {
	var gi ghIssue
	if err := g.do(ctx, "fetch issue", http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, n), nil, &gi); err != nil {
		return nil, err
	}
	return gi.issue(), nil
}

func (g *GitHub) FetchComments(ctx context.Context, owner, repo string, n uint64) ([]Comment, error) {
	var res []Comment
	for page := 1; ; page++ {
		var gcs []ghComment
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments?per_page=%d&page=%d", owner, repo, n, perPage, page)
		if err := g.do(ctx, "fetch comments", http.MethodGet, path, nil, &gcs); err != nil {
			return nil, err
		}
		for i := range gcs {
			res = append(res, gcs[i].comment())
		}
		if len(gcs) < perPage {
			return res, nil
		}
	}
}

func (g *GitHub) FetchSubIssues(ctx context.Context, owner, repo string, n uint64) ([]Issue, error) {
	var res []Issue
	for page := 1; ; page++ {
		var gis []ghIssue
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/sub_issues?per_page=%d&page=%d", owner, repo, n, perPage, page)
		if err := g.do(ctx, "fetch sub-issues", http.MethodGet, path, nil, &gis); err != nil {
			return nil, err
		}
		for i := range gis {
			res = append(res, *gis[i].issue())
		}
		if len(gis) < perPage {
			return res, nil
		}
	}
}

func (g *GitHub) FetchParent(ctx context.Context, owner, repo string, n uint64) (*Issue, error) {
	var gi ghIssue
	err := g.do(ctx, "fetch parent", http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d/parent", owner, repo, n), nil, &gi)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return gi.issue(), nil
}

func (g *GitHub) CreateIssue(ctx context.Context, owner, repo, title, body string) (*Issue, error) {
	var gi ghIssue
	in := map[string]any{"title": title, "body": body}
	if err := g.do(ctx, "create issue", http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues", owner, repo), in, &gi); err != nil {
		return nil, err
	}
	return gi.issue(), nil
}

// AddSubIssue links child below parent. The api takes the child's id, not
// its number, so the child is fetched first.
func (g *GitHub) AddSubIssue(ctx context.Context, owner, repo string, parent, child uint64) error {
	c, err := g.FetchIssue(ctx, owner, repo, child)
	if err != nil {
		return err
	}
	in := map[string]any{"sub_issue_id": c.ID}
	return g.do(ctx, "add sub-issue", http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues/%d/sub_issues", owner, repo, parent), in, nil)
}

func (g *GitHub) UpdateIssueState(ctx context.Context, owner, repo string, n uint64, state State) error {
	in := map[string]any{"state": "open"}
	if state.Closed {
		in["state"] = "closed"
	}
	if state.Reason != "" {
		in["state_reason"] = state.Reason
	}
	return g.do(ctx, "update state", http.MethodPatch, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, n), in, nil)
}

func (g *GitHub) UpdateIssueBody(ctx context.Context, owner, repo string, n uint64, body string) error {
	in := map[string]any{"body": body}
	return g.do(ctx, "update body", http.MethodPatch, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, n), in, nil)
}

func (g *GitHub) UpdateIssueTitle(ctx context.Context, owner, repo string, n uint64, title string) error {
	in := map[string]any{"title": title}
	return g.do(ctx, "update title", http.MethodPatch, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, n), in, nil)
}

func (g *GitHub) SetIssueLabels(ctx context.Context, owner, repo string, n uint64, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	in := map[string]any{"labels": labels}
	return g.do(ctx, "set labels", http.MethodPut, fmt.Sprintf("/repos/%s/%s/issues/%d/labels", owner, repo, n), in, nil)
}

func (g *GitHub) CreateComment(ctx context.Context, owner, repo string, n uint64, body string) (*Comment, error) {
	var gc ghComment
	in := map[string]any{"body": body}
	if err := g.do(ctx, "create comment", http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, n), in, &gc); err != nil {
		return nil, err
	}
	c := gc.comment()
	return &c, nil
}

func (g *GitHub) UpdateComment(ctx context.Context, owner, repo string, id uint64, body string) error {
	in := map[string]any{"body": body}
	return g.do(ctx, "update comment", http.MethodPatch, fmt.Sprintf("/repos/%s/%s/issues/comments/%d", owner, repo, id), in, nil)
}

func (g *GitHub) DeleteComment(ctx context.Context, owner, repo string, id uint64) error {
	return g.do(ctx, "delete comment", http.MethodDelete, fmt.Sprintf("/repos/%s/%s/issues/comments/%d", owner, repo, id), nil, nil)
}

// AuthenticatedUser returns the login of the token owner, cached after the
// first successful lookup.
func (g *GitHub) AuthenticatedUser(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.user != "" {
		return g.user, nil
	}
	var u ghUser
	if err := g.do(ctx, "fetch user", http.MethodGet, "/user", nil, &u); err != nil {
		return "", err
	}
	g.user = u.Login
	return g.user, nil
}

// do performs one api call, retrying rate limited and server errors with
// exponential backoff.
func (g *GitHub) do(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	backoff := g.backoff
	for attempt := 0; ; attempt++ {
		err := g.once(ctx, op, method, path, payload, out)
		var rerr *Error
		if err == nil || !errors.As(err, &rerr) || !rerr.Retryable() || attempt >= g.retries {
			return err
		}
		log.Warn().Str("op", op).Int("status", rerr.Status).Int("attempt", attempt+1).Msg("retrying github request")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (g *GitHub) once(ctx context.Context, op, method, path string, payload []byte, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "issue-sync")

	if debug.Fetch() {
		debug.Logf("github %s %s", method, path)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &msg)
		return &Error{Op: op, Status: resp.StatusCode, Message: msg.Message}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
