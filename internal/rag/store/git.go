package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/storage/memory"
)

// GitConfig locates artifacts inside a git repository.
type GitConfig struct {
	// URL is a local repository path or a remote clone URL
	URL string

	// Ref is a branch, tag or commit hash; empty means HEAD
	Ref string

	// Dir is the directory inside the repository holding the artifacts
	Dir string
}

// GitSource serves artifacts from the tree of one commit.
type GitSource struct {
	url    string
	dir    string
	commit *object.Commit
}

// OpenRepository opens a Git repository from a local path
func OpenRepository(path string) (*git.Repository, error) {
	return git.PlainOpen(path)
}

// CloneRepository clones a Git repository to memory
func CloneRepository(ctx context.Context, url string) (*git.Repository, error) {
	return git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL: url,
	})
}

// NewGitSource opens the repository at cfg.URL, falling back to an
// in-memory clone when it is not a local path, and pins cfg.Ref.
func NewGitSource(ctx context.Context, cfg GitConfig) (*GitSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("git artifact source requires a URL")
	}

	repo, err := OpenRepository(cfg.URL)
	if err != nil {
		repo, err = CloneRepository(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open or clone repository '%s': %w", cfg.URL, err)
		}
	}

	hash, err := resolveRef(repo, cfg.Ref)
	if err != nil {
		return nil, err
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", hash, err)
	}

	return &GitSource{url: cfg.URL, dir: cfg.Dir, commit: commit}, nil
}

func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if ref == "" {
		head, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		return head.Hash(), nil
	}

	// Remote branches only exist as origin/<name> after a clone.
	for _, rev := range []string{ref, "origin/" + ref} {
		hash, err := repo.ResolveRevision(plumbing.Revision(rev))
		if err == nil {
			return *hash, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("failed to resolve ref %q", ref)
}

// Open reads a file from the pinned commit.
func (g *GitSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	full := name
	if g.dir != "" {
		full = path.Join(g.dir, name)
	}

	file, err := g.commit.File(full)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%w: %s at %s", ErrArtifactNotFound, full, g.commit.Hash)
		}
		return nil, fmt.Errorf("failed to read %s: %w", full, err)
	}
	return file.Reader()
}

// Commit returns the hash the source is pinned to.
func (g *GitSource) Commit() string { return g.commit.Hash.String() }

// Describe returns url@commit.
func (g *GitSource) Describe() string {
	return fmt.Sprintf("%s@%s", g.url, g.commit.Hash.String()[:7])
}

// Close is a no-op; clones live in memory.
func (g *GitSource) Close() error { return nil }
