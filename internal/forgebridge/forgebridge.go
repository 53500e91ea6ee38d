// Package forgebridge mirrors a GitHub repository's issue activity
// onto the bus and exposes issue comments as outgoing bus events. It
// polls on every Tick rather than using webhooks, so it fits the
// kernel's pull-based component model without needing an inbound
// HTTP listener.
package forgebridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v69/github"

	"github.com/nugget/circuitry/internal/bus"
)

// Config configures a Bridge.
type Config struct {
	Owner           string
	Repo            string
	Token           string
	BaseURL         string
	PollIntervalSec int
}

// Bridge is a bus.Component that polls a GitHub repository's issues
// and forwards new ones as "forge:issue" events. A "forge:comment"
// event posts a comment back to the forge. Its own channel namespace
// is "forge".
type Bridge struct {
	*bus.Component

	cfg    Config
	logger *slog.Logger
	client *github.Client

	lastPoll time.Time
	seen     map[int]struct{}
}

// New creates a Bridge registered under root. The underlying client
// authenticates with cfg.Token and targets cfg.BaseURL when set
// (GitHub Enterprise), otherwise github.com.
func New(root *bus.Component, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" && cfg.BaseURL != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("forgebridge: configure enterprise url: %w", err)
		}
	}

	b := &Bridge{
		cfg:    cfg,
		logger: logger,
		client: client,
		seen:   make(map[int]struct{}),
	}
	b.Component = bus.NewComponent("forge", b)
	b.Component.Register(root)
	return b, nil
}

// Handlers declares the single handler this bridge contributes: a
// listener on "forge:comment" that posts to the issue's thread.
func (b *Bridge) Handlers() []*bus.Handler {
	return []*bus.Handler{
		bus.NewHandler(b.handleComment, bus.OnChannels("comment"), bus.OnTarget("forge")),
	}
}

// Tick polls for new issues once the configured interval has elapsed,
// satisfying bus.Ticker so the run loop drives polling automatically.
func (b *Bridge) Tick() {
	interval := time.Duration(b.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if time.Since(b.lastPoll) < interval {
		return
	}
	b.lastPoll = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	b.pollIssues(ctx)
}

// pollIssues fetches open issues and pushes a "forge:issue" event for
// any number not already seen this process lifetime.
func (b *Bridge) pollIssues(ctx context.Context) {
	issues, _, err := b.client.Issues.ListByRepo(ctx, b.cfg.Owner, b.cfg.Repo, &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 50},
	})
	if err != nil {
		b.logger.Warn("forgebridge: list issues failed", "error", err)
		return
	}

	for _, issue := range issues {
		if issue.PullRequestLinks != nil {
			continue // the issues endpoint also returns PRs
		}
		number := issue.GetNumber()
		if _, ok := b.seen[number]; ok {
			continue
		}
		b.seen[number] = struct{}{}
		b.Component.Push(bus.New("issue", []any{
			number, issue.GetTitle(), issue.GetBody(), issue.GetUser().GetLogin(), issue.GetHTMLURL(),
		}, nil), "issue", "forge")
	}
}

// handleComment posts a comment to an issue or PR thread. Args:
// [number int, body string].
func (b *Bridge) handleComment(args []any, kwargs map[string]any) any {
	if len(args) < 2 {
		return nil
	}
	number, _ := args[0].(int)
	body, _ := args[1].(string)
	if number == 0 || strings.TrimSpace(body) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	comment, _, err := b.client.Issues.CreateComment(ctx, b.cfg.Owner, b.cfg.Repo, number, &github.IssueComment{
		Body: &body,
	})
	if err != nil {
		b.logger.Warn("forgebridge: comment failed", "number", number, "error", err)
		return nil
	}
	return comment.GetHTMLURL()
}
