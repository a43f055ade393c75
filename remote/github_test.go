package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signadot/issue-sync/issue"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *GitHub {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g := NewGitHub(GitHubConfig{Token: "secret", APIURL: srv.URL, Rate: 1000, Retries: 2})
	g.backoff = time.Millisecond
	return g
}

func TestFetchIssue(t *testing.T) {
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/o/r/issues/7", r.URL.Path)
		require.Equal(t, "token secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		fmt.Fprint(w, `{"id": 700, "number": 7, "title": "T", "body": "B",
			"state": "closed", "state_reason": "not_planned",
			"user": {"login": "alice"}, "labels": [{"name": "bug"}],
			"html_url": "https://github.com/o/r/issues/7"}`)
	})
	is, err := g.FetchIssue(context.Background(), "o", "r", 7)
	require.NoError(t, err)
	require.Equal(t, &Issue{
		ID: 700, Number: 7, Title: "T", Body: "B",
		State:  State{Closed: true, Reason: "not_planned"},
		Author: "alice", Labels: []string{"bug"},
		URL: "https://github.com/o/r/issues/7",
	}, is)
	require.Equal(t, issue.NotPlanned, is.State.CloseState().Kind)
}

func TestFetchIssueNotFound(t *testing.T) {
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})
	_, err := g.FetchIssue(context.Background(), "o", "r", 7)
	require.ErrorIs(t, err, ErrNotFound)
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, http.StatusNotFound, rerr.Status)
	require.Contains(t, err.Error(), "Not Found")
}

func TestFetchCommentsPaginates(t *testing.T) {
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := perPage
		if r.URL.Query().Get("page") == "2" {
			n = 1
		}
		cs := make([]map[string]any, n)
		for i := range cs {
			cs[i] = map[string]any{"id": i + 1, "body": "c", "user": map[string]any{"login": "bob"}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(cs))
	})
	cs, err := g.FetchComments(context.Background(), "o", "r", 1)
	require.NoError(t, err)
	require.Len(t, cs, perPage+1)
	require.Equal(t, Comment{ID: 1, Body: "c", Author: "bob"}, cs[0])
}

func TestFetchParentOfRoot(t *testing.T) {
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/parent"))
		w.WriteHeader(http.StatusNotFound)
	})
	p, err := g.FetchParent(context.Background(), "o", "r", 3)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"login": "me"}`)
	})
	u, err := g.AuthenticatedUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, "me", u)
	require.EqualValues(t, 3, calls.Load())

	// cached
	_, err = g.AuthenticatedUser(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
}

func TestRetriesGiveUp(t *testing.T) {
	var calls atomic.Int32
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	err := g.UpdateIssueBody(context.Background(), "o", "r", 1, "x")
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, http.StatusTooManyRequests, rerr.Status)
	require.EqualValues(t, 3, calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	require.Error(t, g.DeleteComment(context.Background(), "o", "r", 5))
	require.EqualValues(t, 1, calls.Load())
}

func TestAddSubIssueUsesChildID(t *testing.T) {
	var posted map[string]any
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/o/r/issues/9":
			fmt.Fprint(w, `{"id": 90009, "number": 9}`)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/o/r/issues/1/sub_issues":
			d, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(d, &posted))
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	require.NoError(t, g.AddSubIssue(context.Background(), "o", "r", 1, 9))
	require.Equal(t, float64(90009), posted["sub_issue_id"])
}

func TestUpdateIssueState(t *testing.T) {
	var got map[string]any
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		d, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(d, &got))
	})
	st := StateOf(issue.CloseState{Kind: issue.Duplicate, Duplicate: 3})
	require.NoError(t, g.UpdateIssueState(context.Background(), "o", "r", 4, st))
	require.Equal(t, map[string]any{"state": "closed", "state_reason": "duplicate"}, got)
}

func TestStateMapping(t *testing.T) {
	for _, k := range []issue.CloseKind{issue.Open, issue.Closed, issue.NotPlanned} {
		cs := issue.CloseState{Kind: k}
		require.Equal(t, cs, StateOf(cs).CloseState(), "kind %v", k)
	}
	dup := StateOf(issue.CloseState{Kind: issue.Duplicate, Duplicate: 2}).CloseState()
	require.Equal(t, issue.Closed, dup.Kind)
}

func TestSetIssueLabelsSendsEmptyList(t *testing.T) {
	var got map[string]any
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/repos/o/r/issues/4/labels", r.URL.Path)
		d, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(d, &got))
		fmt.Fprint(w, `[]`)
	})
	require.NoError(t, g.SetIssueLabels(context.Background(), "o", "r", 4, nil))
	require.Equal(t, map[string]any{"labels": []any{}}, got)
}
