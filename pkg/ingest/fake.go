package ingest

import (
	"context"
)

// FakeIngestor serves canned repositories for tests.
type FakeIngestor struct {
	Info  map[string]*RepoInfo // keyed by "owner/name"
	Files map[string][]File    // keyed by "owner/name"
	Err   error                // returned by every call when set

	FetchRepoInfoCalls int
	FetchFilesCalls    int
}

// NewFakeIngestor creates an empty fake.
func NewFakeIngestor() *FakeIngestor {
	return &FakeIngestor{
		Info:  map[string]*RepoInfo{},
		Files: map[string][]File{},
	}
}

var _ Ingestor = (*FakeIngestor)(nil)

// FetchRepoInfo implements Ingestor.
func (f *FakeIngestor) FetchRepoInfo(ctx context.Context, owner, name string) (*RepoInfo, error) {
	f.FetchRepoInfoCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	if info, ok := f.Info[owner+"/"+name]; ok {
		return info, nil
	}
	return &RepoInfo{DefaultBranch: "main"}, nil
}

// FetchFiles implements Ingestor.
func (f *FakeIngestor) FetchFiles(ctx context.Context, owner, name, branch string, limit int) (*Sample, error) {
	f.FetchFilesCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	files := f.Files[owner+"/"+name]
	treePaths := make([]string, 0, len(files))
	for _, file := range files {
		treePaths = append(treePaths, file.Path)
	}
	if len(files) > limit {
		files = files[:limit]
	}
	return &Sample{Files: files, TreePaths: treePaths}, nil
}
