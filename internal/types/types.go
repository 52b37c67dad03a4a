package types

import (
	"context"
	"fmt"
	"time"

	"backfeed/internal/utils/hash"
)

type Status string

const (
	StatusNew        Status = "new"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusComplete:
		return true
	}
	return false
}

// Source is a polled content origin. LastPolled is the watermark encoded in
// the name of its one legitimate outstanding poll task.
type Source struct {
	ID         string
	Kind       string
	LastPolled time.Time
	CreatedAt  time.Time
}

// Destination is a publish target. URL is matched as a prefix of post URLs.
type Destination struct {
	ID        string
	Kind      string
	URL       string
	CreatedAt time.Time
}

// Comment is the unit of propagation work. LeasedUntil is only meaningful
// while Status is StatusProcessing.
type Comment struct {
	ID            string
	SourceID      string
	PostID        string
	RemoteID      string
	DestinationID string
	Author        string
	Content       string
	URL           string
	Published     time.Time
	Status        Status
	LeasedUntil   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Post struct {
	ID  string
	URL string
}

type PostDestination struct {
	Post        Post
	Destination *Destination
}

// CommentID derives the store key of a comment from its source, post and
// remote id, so rediscovering the same comment maps to the same entity.
func CommentID(sourceID, postID, remoteID string) string {
	key := fmt.Sprintf("%s\x00%s\x00%s", sourceID, postID, remoteID)
	return "c_" + hash.NewHash([]byte(key)).Prefix(40)
}

// SourcePlatform is the capability a source type exposes to the poller.
type SourcePlatform interface {
	ListPosts(ctx context.Context) ([]Post, error)
	// ListNewComments returns comments newer than since on the matched posts.
	// Returned comments need PostID, RemoteID and DestinationID set. The
	// poller stamps SourceID and ID.
	ListNewComments(ctx context.Context, since time.Time, pairs []PostDestination) ([]*Comment, error)
}

// Publisher side-effects a remote system with one comment.
type Publisher interface {
	Kind() string
	Publish(ctx context.Context, dest *Destination, comment *Comment) error
}
