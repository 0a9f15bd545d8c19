package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcast/internal/candidate"
	"groupcast/internal/dispatch"
	logx "groupcast/pkg/logx"
)

type seen struct {
	method string
	path   string
	form   map[string]string
	file   string
}

type graph struct {
	mu   sync.Mutex
	reqs []seen
	next int
}

func (g *graph) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := seen{method: r.Method, path: r.URL.Path, form: map[string]string{}}
		if r.Method == http.MethodPost {
			if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
				t.Errorf("parse form: %v", err)
			}
			if r.MultipartForm != nil {
				if fh := r.MultipartForm.File["source"]; len(fh) == 1 {
					f, _ := fh[0].Open()
					b, _ := io.ReadAll(f)
					f.Close()
					s.file = string(b)
				}
			}
			for k := range r.Form {
				s.form[k] = r.Form.Get(k)
			}
		}
		g.mu.Lock()
		g.reqs = append(g.reqs, s)
		g.next++
		n := g.next
		g.mu.Unlock()

		switch {
		case r.URL.Path == "/bad/feed":
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"(#368) The action attempted has been deemed abusive","type":"OAuthException","code":368}}`)
		case filepath.Base(r.URL.Path) == "photos":
			fmt.Fprintf(w, `{"id":"p%d","post_id":""}`, n)
		default:
			fmt.Fprintf(w, `{"id":"post%d"}`, n)
		}
	}
}

func (g *graph) all() []seen {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]seen(nil), g.reqs...)
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "tok", RatePerSec: 1000, Burst: 10}, logx.Nop())
}

func TestPublishTextOnly(t *testing.T) {
	g := &graph{}
	c := newTestClient(t, g.handler(t))

	rec, err := c.Publish(context.Background(), "g1", dispatch.Content{Text: "hello", Link: "https://shop/x"})
	require.NoError(t, err)
	assert.Equal(t, "post1", rec.PostID)

	reqs := g.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/g1/feed", reqs[0].path)
	assert.Equal(t, "hello", reqs[0].form["message"])
	assert.Equal(t, "https://shop/x", reqs[0].form["link"])
	assert.Equal(t, "tok", reqs[0].form["access_token"])
}

func TestPublishSingleImagePostsDirectly(t *testing.T) {
	g := &graph{}
	c := newTestClient(t, g.handler(t))

	_, err := c.Publish(context.Background(), "g1", dispatch.Content{Text: "cap", Images: []dispatch.Image{{URL: "https://img/1.jpg"}}})
	require.NoError(t, err)

	reqs := g.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/g1/photos", reqs[0].path)
	assert.Equal(t, "cap", reqs[0].form["caption"])
	assert.NotContains(t, reqs[0].form, "published")
}

func TestPublishMultiImageUploadsThenAttaches(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(local, []byte("PNGDATA"), 0o600))

	g := &graph{}
	c := newTestClient(t, g.handler(t))

	rec, err := c.Publish(context.Background(), "g7", dispatch.Content{
		Text:   "two pics",
		Images: []dispatch.Image{{URL: "https://img/a.jpg"}, {Path: local}},
	})
	require.NoError(t, err)
	assert.Equal(t, "post3", rec.PostID)

	reqs := g.all()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/g7/photos", reqs[0].path)
	assert.Equal(t, "false", reqs[0].form["published"])
	assert.Equal(t, "https://img/a.jpg", reqs[0].form["url"])

	assert.Equal(t, "/g7/photos", reqs[1].path)
	assert.Equal(t, "false", reqs[1].form["published"])
	assert.Equal(t, "PNGDATA", reqs[1].file)

	feed := reqs[2]
	assert.Equal(t, "/g7/feed", feed.path)
	assert.Equal(t, "two pics", feed.form["message"])
	assert.JSONEq(t, `{"media_fbid":"p1"}`, feed.form["attached_media[0]"])
	assert.JSONEq(t, `{"media_fbid":"p2"}`, feed.form["attached_media[1]"])
}

func TestPublishSurfacesPlatformErrorVerbatim(t *testing.T) {
	g := &graph{}
	c := newTestClient(t, g.handler(t))

	_, err := c.Publish(context.Background(), "bad", dispatch.Content{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, "(#368) The action attempted has been deemed abusive", err.Error())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 368, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestPublishWithoutToken(t *testing.T) {
	c := New(Config{}, logx.Nop())
	_, err := c.Publish(context.Background(), "g", dispatch.Content{})
	require.ErrorIs(t, err, ErrNoToken)
}

func TestListGroupsFollowsPaging(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/me/groups", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("admin_only"))
		if r.URL.Query().Get("after") == "" {
			fmt.Fprintf(w, `{"data":[{"id":"1","name":"One"}],"paging":{"next":"%s/me/groups?after=x&access_token=tok"}}`, srvURL)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"2","name":"Two"}],"paging":{}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := New(Config{BaseURL: srv.URL, Token: "tok", RatePerSec: 1000}, logx.Nop())
	got, err := c.ListGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []candidate.Candidate{{ID: "1", Name: "One"}, {ID: "2", Name: "Two"}}, got)
}

func TestListGroupsEmptyGivesGuidance(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	_, err := c.ListGroups(context.Background())
	require.ErrorIs(t, err, ErrNoAdminGroups)
	assert.Contains(t, err.Error(), "administer")
}
