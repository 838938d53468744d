package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrRequestFailed = errors.New("request failed")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNoToken       = errors.New("no authentication token received")
	ErrMissingToken  = errors.New("not authenticated")
)

// APIClient talks to the blog REST API. Each method issues exactly one request.
type APIClient struct {
	client     *resty.Client
	uploadsURL string
}

func NewAPIClient(baseURL, uploadsURL string, timeout time.Duration) *APIClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}

	return &APIClient{
		client:     c,
		uploadsURL: strings.TrimRight(uploadsURL, "/"),
	}
}

func (c *APIClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		Post("/auth/login")
	if err := checkResponse("login", resp, err); err != nil {
		return nil, err
	}

	var result LoginResult
	if err := decode("login", resp, &result); err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, ErrNoToken
	}
	return &result, nil
}

// ListPosts lists posts; a non-empty token turns it into the admin listing.
// Zero page or limit leaves the API default in place.
func (c *APIClient) ListPosts(ctx context.Context, token string, page, limit int) (*PostList, error) {
	req := c.client.R().SetContext(ctx)
	if token != "" {
		req.SetAuthToken(token)
	}
	if page > 0 {
		req.SetQueryParam("page", strconv.Itoa(page))
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	resp, err := req.Get("/blogs")
	if err := checkResponse("list posts", resp, err); err != nil {
		return nil, err
	}

	var list PostList
	if err := decode("list posts", resp, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *APIClient) GetPost(ctx context.Context, slug string) (*Post, error) {
	if slug == "" {
		return nil, fmt.Errorf("get post: %w", ErrNotFound)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("slug", slug).
		Get("/blogs/{slug}")
	if err := checkResponse("get post", resp, err); err != nil {
		return nil, err
	}

	var post Post
	if err := decode("get post", resp, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

func (c *APIClient) CreatePost(ctx context.Context, token string, p NewPost) (*Post, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	req := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetMultipartFormData(map[string]string{
			"title":   p.Title,
			"content": p.Content,
		})
	if p.Image != nil {
		req.SetFileReader("image", p.Image.Filename, p.Image.Body)
	}

	resp, err := req.Post("/admin/blogs")
	if err := checkResponse("create post", resp, err); err != nil {
		return nil, err
	}

	var created struct {
		Blog struct {
			ID       int    `json:"id"`
			Title    string `json:"title"`
			Content  string `json:"content"`
			Slug     string `json:"slug"`
			ImageURL string `json:"imageUrl"`
		} `json:"blog"`
	}
	if err := decode("create post", resp, &created); err != nil {
		return nil, err
	}

	return &Post{
		ID:        created.Blog.ID,
		Title:     created.Blog.Title,
		Content:   created.Blog.Content,
		Slug:      created.Blog.Slug,
		ImagePath: created.Blog.ImageURL,
	}, nil
}

func (c *APIClient) UpdatePost(ctx context.Context, token string, id int, u PostUpdate) error {
	if token == "" {
		return ErrMissingToken
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(u).
		SetPathParam("id", strconv.Itoa(id)).
		Patch("/admin/blogs/{id}")
	return checkResponse("update post", resp, err)
}

func (c *APIClient) DeletePost(ctx context.Context, token string, id int) error {
	if token == "" {
		return ErrMissingToken
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("id", strconv.Itoa(id)).
		Delete("/admin/blogs/{id}")
	return checkResponse("delete post", resp, err)
}

// ImageURL resolves an image path returned by the API to a browser URL.
func (c *APIClient) ImageURL(imagePath string) string {
	if imagePath == "" {
		return ""
	}
	if u, err := url.Parse(imagePath); err == nil && u.IsAbs() {
		return imagePath
	}
	return c.uploadsURL + "/" + strings.TrimLeft(imagePath, "/")
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrRequestFailed, err)
	}
	if resp.IsSuccess() {
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(resp.Body(), &body)
	reason := body.Error
	if reason == "" {
		reason = http.StatusText(resp.StatusCode())
	}

	switch resp.StatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w: %s", op, ErrRequestFailed, ErrNotFound, reason)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %w: %s", op, ErrRequestFailed, ErrUnauthorized, reason)
	default:
		return fmt.Errorf("%s: %w: status %d: %s", op, ErrRequestFailed, resp.StatusCode(), reason)
	}
}

func decode(op string, resp *resty.Response, v any) error {
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("%s: %w: decoding response: %v", op, ErrRequestFailed, err)
	}
	return nil
}
