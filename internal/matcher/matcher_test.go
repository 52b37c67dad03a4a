package matcher

import (
	"testing"

	"backfeed/internal/types"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	blog := &types.Destination{ID: "blog", URL: "https://example.com/blog/"}
	other := &types.Destination{ID: "other", URL: "https://other.example/"}
	broad := &types.Destination{ID: "broad", URL: "https://example.com/"}
	empty := &types.Destination{ID: "empty", URL: ""}

	tests := []struct {
		name      string
		url       string
		dests     []*types.Destination
		want      string
		ambiguous bool
	}{
		{"single match", "https://example.com/blog/post-1", []*types.Destination{blog, other}, "blog", false},
		{"no match", "https://unrelated.org/x", []*types.Destination{blog, other}, "", false},
		{"no destinations", "https://example.com/blog/x", nil, "", false},
		{"exact url", "https://other.example/", []*types.Destination{blog, other}, "other", false},
		{"overlapping prefixes", "https://example.com/blog/post-1", []*types.Destination{blog, broad}, "", true},
		{"empty url never matches", "https://example.com/x", []*types.Destination{empty, broad}, "broad", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.url, tt.dests)
			if tt.ambiguous {
				if !types.IsKind(err, types.KindAmbiguousMatch) {
					t.Fatalf("Match error = %v, want ambiguous match", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			gotID := ""
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.want {
				t.Fatalf("Match = %q, want %q", gotID, tt.want)
			}
		})
	}
}

func TestPair(t *testing.T) {
	t.Parallel()

	blog := &types.Destination{ID: "blog", URL: "https://example.com/blog/"}
	posts := []types.Post{
		{ID: "1", URL: "https://example.com/blog/one"},
		{ID: "2", URL: "https://nowhere.example/two"},
		{ID: "3", URL: "https://example.com/blog/three"},
	}

	pairs, err := Pair(posts, []*types.Destination{blog})
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if len(pairs) != 2 || pairs[0].Post.ID != "1" || pairs[1].Post.ID != "3" || pairs[1].Destination != blog {
		t.Fatalf("pairs = %+v", pairs)
	}

	broad := &types.Destination{ID: "broad", URL: "https://example.com/"}
	if _, err := Pair(posts, []*types.Destination{blog, broad}); !types.IsKind(err, types.KindAmbiguousMatch) {
		t.Fatalf("Pair error = %v, want ambiguous match", err)
	}
}
