// Package platform talks to the social platform's Graph API: publishing to
// groups and listing the groups the account administers.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"groupcast/internal/candidate"
	"groupcast/internal/dispatch"
	logx "groupcast/pkg/logx"
)

const DefaultBaseURL = "https://graph.facebook.com/v19.0"

// ErrNoAdminGroups is returned when the listing succeeds but is empty. The
// listing only covers groups the account administers, so this is normal.
var ErrNoAdminGroups = errors.New("no groups returned: the platform only lists groups you administer. " +
	"Use \"Load groups\" to collect every group you are a member of, or import a list of group links")

var ErrNoToken = errors.New("platform access token not configured")

// APIError is an error body returned by the platform. Its message is kept
// verbatim.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string { return e.Message }

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// Client is a minimal Graph API client.
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:    base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log.With(logx.String("comp", "platform")),
	}
}

// Publish posts c to the group. Text and single-image posts go out in one
// call; several images are uploaded unpublished first and then attached to
// one feed post.
func (c *Client) Publish(ctx context.Context, groupID string, content dispatch.Content) (dispatch.Receipt, error) {
	if c.token == "" {
		return dispatch.Receipt{}, ErrNoToken
	}
	switch len(content.Images) {
	case 0:
		form := url.Values{"message": {content.Text}}
		if content.Link != "" {
			form.Set("link", content.Link)
		}
		id, err := c.postForm(ctx, groupID+"/feed", form)
		return dispatch.Receipt{PostID: id}, err
	case 1:
		id, err := c.uploadPhoto(ctx, groupID, content.Images[0], content.Text, true)
		return dispatch.Receipt{PostID: id}, err
	}

	media := make([]string, 0, len(content.Images))
	for i, img := range content.Images {
		id, err := c.uploadPhoto(ctx, groupID, img, "", false)
		if err != nil {
			return dispatch.Receipt{}, fmt.Errorf("image %d: %w", i+1, err)
		}
		media = append(media, id)
	}
	form := url.Values{"message": {content.Text}}
	if content.Link != "" {
		form.Set("link", content.Link)
	}
	for i, id := range media {
		ref, _ := json.Marshal(map[string]string{"media_fbid": id})
		form.Set(fmt.Sprintf("attached_media[%d]", i), string(ref))
	}
	id, err := c.postForm(ctx, groupID+"/feed", form)
	return dispatch.Receipt{PostID: id}, err
}

func (c *Client) uploadPhoto(ctx context.Context, groupID string, img dispatch.Image, caption string, published bool) (string, error) {
	form := url.Values{}
	if caption != "" {
		form.Set("caption", caption)
	}
	if !published {
		form.Set("published", "false")
	}
	switch {
	case img.URL != "":
		form.Set("url", img.URL)
		return c.postForm(ctx, groupID+"/photos", form)
	case img.Path != "":
		return c.postFile(ctx, groupID+"/photos", form, img.Path)
	default:
		return "", errors.New("image has neither url nor path")
	}
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (string, error) {
	form.Set("access_token", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doID(req)
}

func (c *Client) postFile(ctx context.Context, path string, form url.Values, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	form.Set("access_token", c.token)
	for k, vs := range form {
		for _, v := range vs {
			if err := mw.WriteField(k, v); err != nil {
				return "", err
			}
		}
	}
	part, err := mw.CreateFormFile("source", filepath.Base(file))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+path, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.doID(req)
}

func (c *Client) doID(req *http.Request) (string, error) {
	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.PostID != "" {
		return out.PostID, nil
	}
	return out.ID, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	c.log.Debug("graph call",
		logx.String("method", req.Method),
		logx.String("path", req.URL.Path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		var env struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Message != "" {
			env.Error.Status = resp.StatusCode
			return env.Error
		}
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("platform returned %s", resp.Status)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// ListGroups returns the groups the account administers, following paging.
// An empty listing yields ErrNoAdminGroups.
func (c *Client) ListGroups(ctx context.Context) ([]candidate.Candidate, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}
	q := url.Values{
		"admin_only":   {"true"},
		"fields":       {"id,name"},
		"limit":        {"100"},
		"access_token": {c.token},
	}
	next := c.base + "/me/groups?" + q.Encode()

	var out []candidate.Candidate
	for page := 0; next != "" && page < 50; page++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		var resp struct {
			Data   []candidate.Candidate `json:"data"`
			Paging struct {
				Next string `json:"next"`
			} `json:"paging"`
		}
		if err := c.do(req, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
		next = resp.Paging.Next
	}
	if len(out) == 0 {
		return nil, ErrNoAdminGroups
	}
	return out, nil
}
