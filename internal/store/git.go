package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// gitRemote clones a repository and treats its tree as the credential set.
// Private repos authenticate with AIGATE_GIT_USERNAME / AIGATE_GIT_TOKEN.
type gitRemote struct {
	url string
}

func newGitRemote(rawURL string) (*gitRemote, error) {
	return &gitRemote{url: rawURL}, nil
}

func (r *gitRemote) Name() string {
	return r.url
}

// Fetch does a shallow single-branch clone into a temp dir and reads every
// file outside .git. The clone is discarded once the bytes are in memory.
func (r *gitRemote) Fetch(ctx context.Context) (map[string][]byte, error) {
	dir, err := os.MkdirTemp("", "aigate-store-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	opts := &git.CloneOptions{
		URL:          r.url,
		Depth:        1,
		SingleBranch: true,
	}
	if user, token := os.Getenv("AIGATE_GIT_USERNAME"), os.Getenv("AIGATE_GIT_TOKEN"); token != "" {
		if user == "" {
			user = "git"
		}
		opts.Auth = &githttp.BasicAuth{Username: user, Password: token}
	}
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		return nil, fmt.Errorf("clone %s: %w", r.url, err)
	}

	files := make(map[string][]byte)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
