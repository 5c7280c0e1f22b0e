package redmine_notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, url string) *RedmineClient {
	t.Helper()
	c, err := NewRedmineClient(&TransportConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	}, url, "secret-key", zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewRedmineClient_InvalidURL(t *testing.T) {
	_, err := NewRedmineClient(&TransportConfig{}, "ftp://redmine.example.com", "key", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redmine URL")
}

func TestNewRedmineClient_InvalidProxy(t *testing.T) {
	_, err := NewRedmineClient(&TransportConfig{Proxy: "://bad"}, "https://redmine.example.com", "key", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid proxy URL")
}

func TestRedmineClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/issues.json", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get(apiKeyHeader))
		assert.Equal(t, "bug-tracker", r.URL.Query().Get("project_id"))
		assert.Equal(t, "~[abcd1234]", r.URL.Query().Get("subject"))
		assert.Equal(t, "open", r.URL.Query().Get("status_id"))

		_, _ = io.WriteString(w, `{"issues":[
			{"id":7,"subject":"[ffff0000][2] Other: x","status":{"id":1,"name":"New"}},
			{"id":9,"subject":"[abcd1234][3] RuntimeError: boom","status":{"id":1,"name":"New"}}
		],"total_count":2}`)
	}))
	defer srv.Close()

	issue, err := newTestClient(t, srv.URL).Search(context.Background(), "bug-tracker", "abcd1234")

	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, 9, issue.ID)
	assert.Equal(t, "[abcd1234][3] RuntimeError: boom", issue.Subject)
	assert.Equal(t, "New", issue.Status.Name)
}

func TestRedmineClient_SearchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"issues":[],"total_count":0}`)
	}))
	defer srv.Close()

	issue, err := newTestClient(t, srv.URL).Search(context.Background(), "bug-tracker", "abcd1234")

	require.NoError(t, err)
	assert.Nil(t, issue)
}

func TestRedmineClient_SubPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = io.WriteString(w, `{"issues":[]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL+"/redmine/").Search(context.Background(), "p", "abcd1234")

	require.NoError(t, err)
	assert.Equal(t, "/redmine/issues.json", gotPath)
}

func TestRedmineClient_SearchFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `<html>maintenance</html>`)
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			issue, err := newTestClient(t, srv.URL).Search(context.Background(), "p", "abcd1234")

			assert.Nil(t, issue)
			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, "redmine_search", te.Op)
			assert.Equal(t, tt.wantStatus, te.StatusCode)
		})
	}
}

func TestRedmineClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Search(context.Background(), "p", "abcd1234")

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
}

func TestRedmineClient_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewRedmineClient(&TransportConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    50 * time.Millisecond,
	}, srv.URL, "key", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Search(context.Background(), "p", "abcd1234")

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRedmineClient_Create(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/issues.json", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get(apiKeyHeader))
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")

		var body map[string]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		issue := body["issue"]
		assert.Equal(t, "bug-tracker", issue["project_id"])
		assert.EqualValues(t, 1, issue["tracker_id"])
		assert.Equal(t, "[abcd1234][1] RuntimeError: boom", issue["subject"])
		assert.Equal(t, []any{"production"}, issue["tag_list"])
		assert.NotContains(t, issue, "notes")

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"issue":{"id":42,"subject":"[abcd1234][1] RuntimeError: boom","status":{"id":1,"name":"New"}}}`)
	}))
	defer srv.Close()

	issue, err := newTestClient(t, srv.URL).Create(context.Background(), IssuePayload{
		ProjectID:   "bug-tracker",
		TrackerID:   1,
		Subject:     "[abcd1234][1] RuntimeError: boom",
		Description: "desc",
		TagList:     []string{"production"},
	})

	require.NoError(t, err)
	assert.Equal(t, 42, issue.ID)
}

func TestRedmineClient_CreateOmitsEmptyTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotContains(t, body["issue"], "tag_list")

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"issue":{"id":1,"subject":"s"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Create(context.Background(), IssuePayload{Subject: "s", TagList: []string{}})
	require.NoError(t, err)
}

func TestRedmineClient_CreateRejectsEmptyIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Create(context.Background(), IssuePayload{Subject: "s"})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "redmine_create", te.Op)
}

func TestRedmineClient_Update(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/issues/9.json", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get(apiKeyHeader))

		var body map[string]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "[abcd1234][4] RuntimeError: boom", body["issue"]["subject"])
		assert.Equal(t, "Occurred again", body["issue"]["notes"])

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Update(context.Background(), 9, IssuePayload{
		Subject: "[abcd1234][4] RuntimeError: boom",
		Notes:   "Occurred again",
	})
	require.NoError(t, err)
}

func TestRedmineClient_UpdateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"errors":["Subject cannot be blank"]}`)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Update(context.Background(), 9, IssuePayload{})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnprocessableEntity, te.StatusCode)
	assert.Contains(t, te.Error(), "Subject cannot be blank")
}
