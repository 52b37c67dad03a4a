package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backfeed/internal/types"
)

func newHNServer(t *testing.T, items map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".json")
		v, ok := items[key]
		if !ok {
			w.Write([]byte("null"))
			return
		}
		json.NewEncoder(w).Encode(v)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var hnSince = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func hnFixture() map[string]any {
	return map[string]any{
		"user/alice": map[string]any{"id": "alice", "submitted": []int{1, 2, 3, 4}},
		"item/1":     HNItem{ID: 1, Type: "story", By: "alice", URL: "https://blog.example.com/a", Kids: []int64{11, 12, 13, 14}},
		"item/2":     HNItem{ID: 2, Type: "comment", By: "alice", Parent: 99},
		"item/3":     HNItem{ID: 3, Type: "story", By: "alice", Title: "Ask HN"},
		"item/11":    HNItem{ID: 11, Type: "comment", By: "bob", Text: "Nice <i>work</i>", Time: hnSince.Add(time.Hour).Unix(), Parent: 1},
		"item/12":    HNItem{ID: 12, Type: "comment", By: "carol", Text: "old", Time: hnSince.Add(-time.Hour).Unix(), Parent: 1},
		"item/13":    HNItem{ID: 13, Type: "comment", Deleted: true, Time: hnSince.Add(time.Hour).Unix(), Parent: 1},
		"item/14":    HNItem{ID: 14, Type: "comment", By: "dave", Dead: true, Time: hnSince.Add(time.Hour).Unix(), Parent: 1},
	}
}

func TestHackerNewsListPosts(t *testing.T) {
	srv := newHNServer(t, hnFixture())

	src, err := NewHackerNewsSource("hn", HackerNewsSettings{User: "alice", APIURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("NewHackerNewsSource: %v", err)
	}

	posts, err := src.ListPosts(context.Background())
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "1" || posts[0].URL != "https://blog.example.com/a" {
		t.Fatalf("posts = %+v", posts)
	}
}

func TestHackerNewsListNewComments(t *testing.T) {
	srv := newHNServer(t, hnFixture())

	src, err := NewHackerNewsSource("hn", HackerNewsSettings{User: "alice", APIURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("NewHackerNewsSource: %v", err)
	}

	dest := &types.Destination{ID: "blog", URL: "https://blog.example.com/"}
	comments, err := src.ListNewComments(context.Background(), hnSince, []types.PostDestination{
		{Post: types.Post{ID: "1", URL: "https://blog.example.com/a"}, Destination: dest},
	})
	if err != nil {
		t.Fatalf("ListNewComments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("got %d comments, want 1", len(comments))
	}

	c := comments[0]
	if c.RemoteID != "11" || c.Author != "bob" || c.Content != "Nice work" || c.DestinationID != "blog" {
		t.Errorf("comment = %+v", c)
	}
	if c.URL != "https://news.ycombinator.com/item?id=11" {
		t.Errorf("url = %q", c.URL)
	}
}

func TestHackerNewsErrors(t *testing.T) {
	if _, err := NewHackerNewsSource("hn", HackerNewsSettings{}, nil); err == nil {
		t.Fatal("expected error for missing user")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src, err := NewHackerNewsSource("hn", HackerNewsSettings{User: "alice", APIURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("NewHackerNewsSource: %v", err)
	}
	if _, err := src.ListPosts(context.Background()); err == nil {
		t.Fatal("expected error from failing API")
	}
}
