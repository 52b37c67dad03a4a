package sources

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"backfeed/internal/lua"
	"backfeed/internal/types"
)

//go:embed scripts/*.lua
var bundledScripts embed.FS

type ScriptSettings struct {
	// ScriptType is "internal" for a bundled script named by ScriptName or
	// "external" for a file at ScriptPath.
	ScriptType string
	ScriptName string
	ScriptPath string
	Config     map[string]interface{}
}

// ScriptSource delegates both capabilities to a Lua script defining
// list_posts(config) and list_comments(config, since, pairs).
type ScriptSource struct {
	name    string
	config  map[string]interface{}
	runtime *lua.Runtime
	logger  *slog.Logger
}

func NewScriptSource(name string, settings ScriptSettings, client *http.Client, logger *slog.Logger) (*ScriptSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	var loader lua.Loader
	var content, identifier string
	switch settings.ScriptType {
	case "internal", "":
		if settings.ScriptName == "" {
			return nil, fmt.Errorf("script_name is required when script_type is internal")
		}
		loader = lua.NewFSLoader(bundledScripts, "scripts")
		identifier = settings.ScriptName
		src, err := loader.Load(identifier)
		if err != nil {
			return nil, err
		}
		content = src
	case "external":
		if settings.ScriptPath == "" {
			return nil, fmt.Errorf("script_path is required when script_type is external")
		}
		data, err := os.ReadFile(settings.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read script: %w", err)
		}
		loader = lua.NewDirLoader(filepath.Dir(settings.ScriptPath))
		identifier = filepath.Base(settings.ScriptPath)
		content = string(data)
	default:
		return nil, fmt.Errorf("invalid script_type: %s (must be 'internal' or 'external')", settings.ScriptType)
	}

	scriptLogger := logger.With("source", name)
	runtime, err := lua.NewRuntime(
		lua.WithLoader(loader),
		lua.WithSecureMode(true),
		lua.WithModules(lua.SourceModules(client, scriptLogger)...),
	)
	if err != nil {
		return nil, err
	}

	if err := runtime.LoadScript(content); err != nil {
		runtime.Close()
		return nil, fmt.Errorf("script %s: %w", identifier, err)
	}
	if err := runtime.Require("list_posts", "list_comments"); err != nil {
		runtime.Close()
		return nil, fmt.Errorf("script %s: %w", identifier, err)
	}

	cfg := settings.Config
	if cfg == nil {
		cfg = make(map[string]interface{})
	}

	return &ScriptSource{
		name:    name,
		config:  cfg,
		runtime: runtime,
		logger:  scriptLogger,
	}, nil
}

func (s *ScriptSource) ListPosts(ctx context.Context) ([]types.Post, error) {
	records, err := s.runtime.Records(ctx, "list_posts", s.config)
	if err != nil {
		return nil, err
	}

	posts := make([]types.Post, 0, len(records))
	for i, rec := range records {
		id, url := stringField(rec, "id"), stringField(rec, "url")
		if id == "" || url == "" {
			s.logger.Warn("Skipping post with missing id or url", "index", i+1)
			continue
		}
		posts = append(posts, types.Post{ID: id, URL: url})
	}
	return posts, nil
}

func (s *ScriptSource) ListNewComments(ctx context.Context, since time.Time, pairs []types.PostDestination) ([]*types.Comment, error) {
	destByPost := make(map[string]string, len(pairs))
	luaPairs := make([]interface{}, 0, len(pairs))
	for _, pair := range pairs {
		destByPost[pair.Post.ID] = pair.Destination.ID
		luaPairs = append(luaPairs, map[string]interface{}{
			"post_id":     pair.Post.ID,
			"post_url":    pair.Post.URL,
			"destination": pair.Destination.ID,
		})
	}

	records, err := s.runtime.Records(ctx, "list_comments", s.config, since, luaPairs)
	if err != nil {
		return nil, err
	}

	var comments []*types.Comment
	for i, rec := range records {
		postID := stringField(rec, "post_id")
		destID, ok := destByPost[postID]
		if !ok {
			s.logger.Warn("Skipping comment for unmatched post", "index", i+1, "post_id", postID)
			continue
		}

		remoteID := stringField(rec, "id")
		if remoteID == "" {
			s.logger.Warn("Skipping comment without id", "index", i+1)
			continue
		}

		published := timeField(rec, "published")
		if !published.IsZero() && !published.After(since) {
			continue
		}

		comments = append(comments, &types.Comment{
			PostID:        postID,
			RemoteID:      remoteID,
			DestinationID: destID,
			Author:        stringField(rec, "author"),
			Content:       plainText(stringField(rec, "content")),
			URL:           stringField(rec, "url"),
			Published:     published,
		})
	}
	return comments, nil
}

func (s *ScriptSource) Close() error {
	return s.runtime.Close()
}

// stringField accepts numbers too, since scripts often carry numeric ids.
func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// timeField reads unix seconds or an RFC 3339 string.
func timeField(m map[string]interface{}, key string) time.Time {
	switch v := m[key].(type) {
	case float64:
		if v > 0 {
			return time.Unix(int64(v), 0).UTC()
		}
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
