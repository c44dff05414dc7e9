// Package alerts raises operator-facing alerts as GitHub issues.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/storefrontapp/storefront/internal/logging"
	"github.com/storefrontapp/storefront/internal/models"
	"github.com/storefrontapp/storefront/internal/observability"
)

const maxRawPayload = 4000

type Config struct {
	Token  string
	Repo   string // owner/name
	Labels []string
	// BaseURL overrides the GitHub API endpoint, e.g. for GitHub Enterprise.
	BaseURL string
}

// GitHubReporter opens one issue per orphaned payment notification.
type GitHubReporter struct {
	client *github.Client
	owner  string
	repo   string
	labels []string
	logger *slog.Logger
}

func NewGitHubReporter(cfg Config, logger *slog.Logger) (*GitHubReporter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("github token is required")
	}
	parts := strings.Split(cfg.Repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repo full name: %s", cfg.Repo)
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, observability.NewHTTPClient(15*time.Second))
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if cfg.BaseURL != "" {
		baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base URL: %w", err)
		}
		client.BaseURL = baseURL
	}

	labels := cfg.Labels
	if len(labels) == 0 {
		labels = []string{"payments", "orphaned-notification"}
	}

	return &GitHubReporter{
		client: client,
		owner:  parts[0],
		repo:   parts[1],
		labels: labels,
		logger: logger,
	}, nil
}

func (r *GitHubReporter) ReportOrphan(ctx context.Context, orphan *models.OrphanedNotification) error {
	title := fmt.Sprintf("Orphaned payment notification for %s", orphan.OrderRef)
	body := orphanIssueBody(orphan)
	labels := r.labels

	issue, _, err := r.client.Issues.Create(ctx, r.owner, r.repo, &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}

	logging.FromContext(ctx, r.logger).Info("orphan alert raised", "order_ref", orphan.OrderRef, "issue", issue.GetNumber())
	return nil
}

func orphanIssueBody(orphan *models.OrphanedNotification) string {
	var b strings.Builder
	b.WriteString("A payment outcome arrived that matches no pending checkout and no order.\n\n")
	fmt.Fprintf(&b, "- **Order reference:** `%s`\n", orphan.OrderRef)
	fmt.Fprintf(&b, "- **Source:** %s\n", orphan.Source)
	fmt.Fprintf(&b, "- **Gateway state:** %s\n", orphan.GatewayState)
	if orphan.ID != 0 {
		fmt.Fprintf(&b, "- **Record:** #%d\n", orphan.ID)
	}
	if !orphan.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- **Received:** %s\n", orphan.CreatedAt.UTC().Format(time.RFC3339))
	}
	if len(orphan.Raw) > 0 {
		raw := string(orphan.Raw)
		if len(raw) > maxRawPayload {
			raw = raw[:maxRawPayload] + "..."
		}
		b.WriteString("\n<details><summary>Gateway payload</summary>\n\n```json\n")
		b.WriteString(raw)
		b.WriteString("\n```\n</details>\n")
	}
	b.WriteString("\nIf the customer was charged, refund them from the gateway dashboard or recreate the order by hand.\n")
	return b.String()
}
