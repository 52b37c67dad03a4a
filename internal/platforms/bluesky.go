package platforms

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const DefaultBlueskyHost = "https://bsky.social"

type BlueskySettings struct {
	Identifier string
	Password   string
	Host       string
}

type BlueskyPlatform struct {
	identifier string
	password   string
	host       string

	mu     sync.Mutex
	client *xrpc.Client
}

func NewBlueskyPlatform(settings BlueskySettings) (*BlueskyPlatform, error) {
	if settings.Identifier == "" {
		return nil, fmt.Errorf("bluesky platform: identifier is required")
	}
	if settings.Password == "" {
		return nil, fmt.Errorf("bluesky platform: password is required")
	}
	if settings.Host == "" {
		settings.Host = DefaultBlueskyHost
	}

	return &BlueskyPlatform{
		identifier: settings.Identifier,
		password:   settings.Password,
		host:       settings.Host,
	}, nil
}

func (p *BlueskyPlatform) Initialize(ctx context.Context) error {
	client := &xrpc.Client{
		Host: p.host,
	}

	auth, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: p.identifier,
		Password:   p.password,
	})
	if err != nil {
		return fmt.Errorf("failed to authenticate with bluesky: %w", err)
	}

	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  auth.AccessJwt,
		RefreshJwt: auth.RefreshJwt,
		Handle:     auth.Handle,
		Did:        auth.Did,
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	return nil
}

func (p *BlueskyPlatform) Client() *xrpc.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// Do runs fn with the authenticated client, refreshing the session once if
// the access token has expired.
func (p *BlueskyPlatform) Do(ctx context.Context, fn func(c *xrpc.Client) error) error {
	client := p.Client()
	if client == nil {
		return fmt.Errorf("bluesky platform not initialized")
	}

	err := fn(client)
	if err == nil || !strings.Contains(err.Error(), "ExpiredToken") {
		return err
	}

	if err := p.refresh(ctx); err != nil {
		return err
	}
	return fn(p.Client())
}

func (p *BlueskyPlatform) refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	refreshClient := &xrpc.Client{
		Host: p.host,
		Auth: &xrpc.AuthInfo{
			AccessJwt:  p.client.Auth.RefreshJwt,
			RefreshJwt: p.client.Auth.RefreshJwt,
			Handle:     p.client.Auth.Handle,
			Did:        p.client.Auth.Did,
		},
	}

	out, err := atproto.ServerRefreshSession(ctx, refreshClient)
	if err != nil {
		return fmt.Errorf("failed to refresh bluesky session: %w", err)
	}

	p.client.Auth = &xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	}
	return nil
}

// CreatePost writes post to the authenticated account's feed and returns
// the record URI.
func (p *BlueskyPlatform) CreatePost(ctx context.Context, post *bsky.FeedPost) (string, error) {
	var uri string
	err := p.Do(ctx, func(c *xrpc.Client) error {
		resp, err := atproto.RepoCreateRecord(ctx, c, &atproto.RepoCreateRecord_Input{
			Collection: "app.bsky.feed.post",
			Repo:       c.Auth.Did,
			Record:     &util.LexiconTypeDecoder{Val: post},
		})
		if err != nil {
			return err
		}
		uri = resp.Uri
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create bluesky post: %w", err)
	}
	return uri, nil
}

func (p *BlueskyPlatform) Close(ctx context.Context) error {
	return nil
}

func (p *BlueskyPlatform) Validate() error {
	return nil
}
