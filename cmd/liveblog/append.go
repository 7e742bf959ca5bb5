package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/liveblog/feedserver"
	"github.com/hazyhaar/liveblog/horosafe"
)

type appendOptions struct {
	PostID  int64
	NewPost string
	Author  string
	ID      string
	Server  string
	DBPath  string
}

func newAppendCommand(root *rootOptions) *cobra.Command {
	opts := &appendOptions{}
	cmd := &cobra.Command{
		Use:   "append [body...]",
		Short: "Publish a liveblog entry",
		Long: `Publish a Markdown entry, either straight into the database or through a
running server's editor API (--server). A body of "-" is read from stdin.

Example:
  liveblog append --db liveblog.db --new-post "Cup final" "Teams are out"
  liveblog append --server http://localhost:8080 --post 1 "**Goal!**"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			in := feedserver.EntryInput{ID: opts.ID, Body: body, Author: opts.Author}
			var e *feedserver.Entry
			if opts.Server != "" {
				e, err = appendHTTP(cmd.Context(), opts, in)
			} else {
				e, err = appendLocal(cmd.Context(), root, opts, in)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(e)
		},
	}
	cmd.Flags().Int64Var(&opts.PostID, "post", 0, "post id")
	cmd.Flags().StringVar(&opts.NewPost, "new-post", "", "create a post with this title first (local mode)")
	cmd.Flags().StringVar(&opts.Author, "author", "", "author display name")
	cmd.Flags().StringVar(&opts.ID, "id", "", "entry id (generated when empty)")
	cmd.Flags().StringVar(&opts.Server, "server", "", "base URL of a server with the editor API")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "path to SQLite database (local mode)")
	return cmd
}

func readBody(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := horosafe.LimitedReadAll(stdin, 64<<10)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}

func appendLocal(ctx context.Context, root *rootOptions, opts *appendOptions, in feedserver.EntryInput) (*feedserver.Entry, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		cfg.Server.DBPath = opts.DBPath
	}
	s, err := feedserver.New(&cfg.Server, root.logger())
	if err != nil {
		return nil, err
	}
	defer s.Close()

	postID := opts.PostID
	if opts.NewPost != "" {
		p, err := s.CreatePost(ctx, opts.NewPost)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "created post %d\n", p.ID)
		postID = p.ID
	}
	return s.AppendEntry(ctx, postID, in)
}

func appendHTTP(ctx context.Context, opts *appendOptions, in feedserver.EntryInput) (*feedserver.Entry, error) {
	if err := horosafe.ValidateEndpoint(opts.Server); err != nil {
		return nil, err
	}
	if opts.PostID <= 0 {
		return nil, fmt.Errorf("--post is required with --server")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/wp-json/liveblog/v1/posts/%d/entries", strings.TrimRight(opts.Server, "/"), opts.PostID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 20 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		json.Unmarshal(data, &apiErr)
		return nil, fmt.Errorf("append: %s: %s %s", resp.Status, apiErr.Error, apiErr.Message)
	}
	var e feedserver.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("append: decode: %w", err)
	}
	return &e, nil
}
