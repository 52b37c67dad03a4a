package matcher

import (
	"fmt"
	"strings"

	"backfeed/internal/types"
)

// Match returns the destination whose URL is a string prefix of postURL.
// No match returns nil. More than one match is an AmbiguousDestinationMatch
// error naming the candidates.
func Match(postURL string, dests []*types.Destination) (*types.Destination, error) {
	var found []*types.Destination
	for _, dest := range dests {
		if dest == nil || dest.URL == "" {
			continue
		}
		if strings.HasPrefix(postURL, dest.URL) {
			found = append(found, dest)
		}
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	}

	ids := make([]string, 0, len(found))
	for _, dest := range found {
		ids = append(ids, dest.ID)
	}
	return nil, types.NewTaskError(types.KindAmbiguousMatch, postURL,
		fmt.Sprintf("matches destinations %s", strings.Join(ids, ", ")))
}

// Pair matches every post and returns the post/destination pairs in post
// order. The first ambiguous post aborts the whole match.
func Pair(posts []types.Post, dests []*types.Destination) ([]types.PostDestination, error) {
	var pairs []types.PostDestination
	for _, post := range posts {
		dest, err := Match(post.URL, dests)
		if err != nil {
			return nil, err
		}
		if dest != nil {
			pairs = append(pairs, types.PostDestination{Post: post, Destination: dest})
		}
	}
	return pairs, nil
}
