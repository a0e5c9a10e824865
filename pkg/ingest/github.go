package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/apperrors"
	"github.com/prsnl-labs/intel-engine/pkg/config"
	"github.com/prsnl-labs/intel-engine/pkg/logging"
)

// GitHubIngestor fetches repository content through a GitHub-compatible
// REST API.
type GitHubIngestor struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewGitHubIngestor creates an ingestor for the configured code host.
func NewGitHubIngestor(cfg *config.IngestConfig, logger *zap.Logger) *GitHubIngestor {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GitHubIngestor{
		baseURL: strings.TrimSuffix(cfg.APIBaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("ingest"),
	}
}

var _ Ingestor = (*GitHubIngestor)(nil)

type repoResponse struct {
	DefaultBranch string `json:"default_branch"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		Size int    `json:"size"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

type contentResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// FetchRepoInfo implements Ingestor.
func (g *GitHubIngestor) FetchRepoInfo(ctx context.Context, owner, name string) (*RepoInfo, error) {
	var resp repoResponse
	url := fmt.Sprintf("%s/repos/%s/%s", g.baseURL, owner, name)
	if err := g.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.DefaultBranch == "" {
		resp.DefaultBranch = "main"
	}
	return &RepoInfo{
		DefaultBranch: resp.DefaultBranch,
		Description:   resp.Description,
		Private:       resp.Private,
	}, nil
}

// maxFileSize skips files too large to be a useful sample.
const maxFileSize = 512 * 1024

// FetchFiles implements Ingestor. It lists the branch tree once, filters
// to analyzable paths, then fetches content for up to limit files with
// dependency manifests taken first.
func (g *GitHubIngestor) FetchFiles(ctx context.Context, owner, name, branch string, limit int) (*Sample, error) {
	var tree treeResponse
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", g.baseURL, owner, name, branch)
	if err := g.getJSON(ctx, url, &tree); err != nil {
		return nil, err
	}
	if tree.Truncated {
		g.logger.Warn("repository tree truncated by host",
			zap.String("repo", owner+"/"+name))
	}

	var manifests, others []string
	for _, entry := range tree.Tree {
		if entry.Type != "blob" || entry.Size > maxFileSize {
			continue
		}
		if !IsAnalyzable(entry.Path) {
			continue
		}
		if IsManifest(entry.Path) {
			manifests = append(manifests, entry.Path)
		} else {
			others = append(others, entry.Path)
		}
		if len(manifests)+len(others) >= MaxTreePaths {
			break
		}
	}

	treePaths := append(append([]string{}, manifests...), others...)
	paths := treePaths
	if len(paths) > limit {
		paths = paths[:limit]
	}

	files := make([]File, 0, len(paths))
	for _, p := range paths {
		content, err := g.fetchContent(ctx, owner, name, branch, p)
		if err != nil {
			// A single unreadable file does not sink the sample.
			g.logger.Warn("failed to fetch file",
				zap.String("path", p),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}
		truncated, lines := TruncateLines(content, MaxFileLines)
		files = append(files, File{Path: p, Content: truncated, Lines: lines})
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no analyzable files in %s/%s@%s", owner, name, branch)
	}
	return &Sample{Files: files, TreePaths: treePaths}, nil
}

func (g *GitHubIngestor) fetchContent(ctx context.Context, owner, name, branch, filePath string) (string, error) {
	var resp contentResponse
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", g.baseURL, owner, name, filePath, branch)
	if err := g.getJSON(ctx, url, &resp); err != nil {
		return "", err
	}
	if resp.Encoding != "base64" {
		return resp.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("failed to decode content: %w", err)
	}
	return string(decoded), nil
}

func (g *GitHubIngestor) getJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.ErrNotFound
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return fmt.Errorf("rate limit exceeded for %s", url)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("host returned %d for %s: %s", resp.StatusCode, url, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
