// Package ingest fetches repository metadata and file samples from a
// code host. The pipeline never clones; it samples files through the
// host API so shallow analyses stay cheap.
package ingest

import (
	"context"
	"path"
	"strings"
)

// RepoInfo is the metadata fetched before sampling files.
type RepoInfo struct {
	DefaultBranch string
	Description   string
	Private       bool
}

// File is one sampled source file. Content is truncated to MaxFileLines
// lines at fetch time.
type File struct {
	Path    string
	Content string
	Lines   int // Line count of the full file, before truncation
}

// MaxFileLines caps how much of each sampled file is fetched.
const MaxFileLines = 100

// MaxTreePaths caps how much of the branch tree listing is retained.
const MaxTreePaths = 1000

// Sample is the outcome of one file sampling pass. TreePaths carries the
// full analyzable listing so language and framework detection can see the
// whole structure even though only a few files have content fetched.
type Sample struct {
	Files     []File
	TreePaths []string
}

// Ingestor fetches repository content for analysis.
type Ingestor interface {
	// FetchRepoInfo returns repository metadata.
	FetchRepoInfo(ctx context.Context, owner, name string) (*RepoInfo, error)

	// FetchFiles samples up to limit analyzable files from the branch,
	// dependency manifests first.
	FetchFiles(ctx context.Context, owner, name, branch string, limit int) (*Sample, error)
}

// IsManifest reports whether a path is a dependency manifest.
func IsManifest(filePath string) bool {
	base := strings.ToLower(path.Base(filePath))
	if manifestFiles[base] {
		return true
	}
	switch base {
	case "package.json", "pyproject.toml", "cargo.toml", "composer.json":
		return true
	}
	return false
}

// analyzableExtensions are the source and config file types worth sampling.
var analyzableExtensions = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".go": true, ".rs": true, ".java": true, ".kt": true, ".rb": true,
	".php": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".cs": true, ".swift": true, ".scala": true, ".sh": true,
	".sql": true, ".yaml": true, ".yml": true, ".toml": true, ".json": true,
}

// manifestFiles are dependency manifests sampled regardless of extension.
var manifestFiles = map[string]bool{
	"go.mod":           true,
	"requirements.txt": true,
	"gemfile":          true,
	"pom.xml":          true,
	"build.gradle":     true,
}

// skippedDirs are vendored or generated trees that never get sampled.
var skippedDirs = []string{
	"node_modules/", "vendor/", "dist/", "build/", ".git/",
	"__pycache__/", "target/", ".venv/", "venv/",
}

// IsAnalyzable reports whether a repository path is worth sampling.
func IsAnalyzable(filePath string) bool {
	for _, dir := range skippedDirs {
		if strings.HasPrefix(filePath, dir) || strings.Contains(filePath, "/"+dir) {
			return false
		}
	}
	if manifestFiles[strings.ToLower(path.Base(filePath))] {
		return true
	}
	return analyzableExtensions[strings.ToLower(path.Ext(filePath))]
}

// TruncateLines returns at most max lines of content and the full line count.
func TruncateLines(content string, max int) (string, int) {
	lines := strings.Split(content, "\n")
	total := len(lines)
	if total <= max {
		return content, total
	}
	return strings.Join(lines[:max], "\n"), total
}
