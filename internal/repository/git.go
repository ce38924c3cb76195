package repository

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"mcpindex/internal/logging"
	"mcpindex/pkg/fileops"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
)

// DirectoryStatus is the state of a clone target directory.
type DirectoryStatus int

const (
	DirectoryStatusEmpty DirectoryStatus = iota
	DirectoryStatusSameRepo
	DirectoryStatusDifferentRepo
	DirectoryStatusConflict
	DirectoryStatusError
)

func (ds DirectoryStatus) String() string {
	switch ds {
	case DirectoryStatusEmpty:
		return "empty or doesn't exist"
	case DirectoryStatusSameRepo:
		return "same git repository"
	case DirectoryStatusDifferentRepo:
		return "different git repository"
	case DirectoryStatusConflict:
		return "contains non-git content"
	case DirectoryStatusError:
		return "validation error"
	default:
		return "unknown status"
	}
}

// ErrAuthRequired is returned when a repository needs a token and none is
// stored.
var ErrAuthRequired = errors.New("GitHub authentication required: run `mcpindex auth set`")

// GitSource is a GitHub repository cloned into a local cache directory.
// Clones are shallow. Updates fetch and hard-reset to the remote branch,
// unless the working tree has local edits, in which case the cached copy is
// used untouched.
type GitSource struct {
	RemoteURL string
	Branch    string // empty means the remote's default branch
	Path      string

	creds *CredentialManager
}

func NewGitSource(remoteURL, branch, localPath string) GitSource {
	return GitSource{
		RemoteURL: remoteURL,
		Branch:    branch,
		Path:      localPath,
		creds:     NewCredentialManager(),
	}
}

// WithCredentials swaps the credential manager, mainly for tests.
func (gs GitSource) WithCredentials(cm *CredentialManager) GitSource {
	gs.creds = cm
	return gs
}

// Prepare clones or refreshes the repository and returns its local path.
func (gs GitSource) Prepare(ctx context.Context, logger *logging.AppLogger) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(gs.RemoteURL) == "" {
		return "", fmt.Errorf("remote URL cannot be empty")
	}
	if strings.TrimSpace(gs.Path) == "" {
		return "", fmt.Errorf("local path cannot be empty")
	}

	remoteURL, err := NormalizeRemoteURL(gs.RemoteURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote URL: %w", err)
	}

	localPath, err := gs.validateLocalPath()
	if err != nil {
		return "", err
	}

	status, err := ValidateCloneDirectory(localPath, remoteURL)
	switch status {
	case DirectoryStatusEmpty:
		err = gs.withAuthFallback(logger, func(auth *http.BasicAuth) error {
			return gs.clone(ctx, localPath, remoteURL, auth, logger)
		})
	case DirectoryStatusSameRepo:
		err = gs.withAuthFallback(logger, func(auth *http.BasicAuth) error {
			return gs.refresh(ctx, localPath, auth, logger)
		})
	default:
		if err == nil {
			err = fmt.Errorf("unexpected directory status: %s", status)
		}
		return "", fmt.Errorf("directory conflict at %s (%s): %w", localPath, status, err)
	}
	if err != nil {
		return "", err
	}

	if logger != nil {
		logger.Info("Git source ready", "remote", remoteURL, "path", localPath)
	}
	return localPath, nil
}

func (gs GitSource) validateLocalPath() (string, error) {
	clean := filepath.Clean(fileops.ExpandPath(gs.Path))
	if err := fileops.ValidatePathSecurity(clean); err != nil {
		return "", fmt.Errorf("invalid local path: %w", err)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("cannot resolve absolute path: %w", err)
	}
	return abs, nil
}

// withAuthFallback runs op anonymously first and retries with the stored
// token only when the remote asked for credentials.
func (gs GitSource) withAuthFallback(logger *logging.AppLogger, op func(*http.BasicAuth) error) error {
	err := op(nil)
	if err == nil || !isAuthenticationError(err) {
		return err
	}

	if logger != nil {
		logger.Debug("Anonymous access refused, retrying with token")
	}
	if gs.creds == nil || !gs.creds.HasGitHubToken() {
		return ErrAuthRequired
	}
	token, tokErr := gs.creds.GetGitHubToken()
	if tokErr != nil {
		return fmt.Errorf("GitHub authentication failed: %w", tokErr)
	}
	return op(&http.BasicAuth{Username: "token", Password: token})
}

func (gs GitSource) clone(ctx context.Context, localPath, remoteURL string, auth *http.BasicAuth, logger *logging.AppLogger) error {
	if logger != nil {
		logger.Info("Cloning repository", "remote", remoteURL, "path", localPath)
	}
	if err := fileops.EnsureDirectoryExists(filepath.Dir(localPath)); err != nil {
		return err
	}

	opts := &git.CloneOptions{
		URL:   remoteURL,
		Depth: 1,
	}
	if auth != nil {
		opts.Auth = auth
	}
	if gs.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(gs.Branch)
		opts.SingleBranch = true
	}

	if _, err := git.PlainCloneContext(ctx, localPath, opts); err != nil {
		os.RemoveAll(localPath)
		return gs.translateError("clone", err)
	}
	return nil
}

func (gs GitSource) refresh(ctx context.Context, localPath string, auth *http.BasicAuth, logger *logging.AppLogger) error {
	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("failed to open existing repository: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get working tree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("failed to get working tree status: %w", err)
	}
	if !status.IsClean() {
		if logger != nil {
			logger.Warn("Source has local changes, using cached copy", "path", localPath)
		}
		return nil
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return fmt.Errorf("failed to get origin remote: %w", err)
	}
	fetchOpts := &git.FetchOptions{Depth: 1, Force: true}
	if auth != nil {
		fetchOpts.Auth = auth
	}
	err = remote.FetchContext(ctx, fetchOpts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return gs.translateError("fetch", err)
	}

	branch := gs.Branch
	if branch == "" {
		head, err := repo.Head()
		if err != nil {
			return fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		branch = head.Name().Short()
	}
	ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return fmt.Errorf("branch %q does not exist on origin: %w", branch, err)
	}
	if err := worktree.Reset(&git.ResetOptions{Commit: ref.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("failed to reset to origin/%s: %w", branch, err)
	}
	if logger != nil {
		logger.Info("Source updated", "path", localPath, "commit", ref.Hash().String())
	}
	return nil
}

func (gs GitSource) translateError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s interrupted: %w", op, err)
	case isAuthenticationError(err):
		if strings.Contains(msg, "403") || strings.Contains(msg, "forbidden") {
			return fmt.Errorf("GitHub token lacks access to %s (needs repo scope): %w", gs.RemoteURL, err)
		}
		return fmt.Errorf("GitHub authentication failed for %s: %w", gs.RemoteURL, err)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return fmt.Errorf("repository not found: %s", gs.RemoteURL)
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection") || strings.Contains(msg, "timeout"):
		return fmt.Errorf("network error during %s: %w", op, err)
	}
	return fmt.Errorf("failed to %s repository: %w", op, err)
}

func isAuthenticationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"authentication required", "authorization failed", "401", "unauthorized", "403", "forbidden"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsDirty reports whether the clone at repoPath has uncommitted changes.
func IsDirty(repoPath string) (bool, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return false, fmt.Errorf("failed to open repository: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get working tree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get repository status: %w", err)
	}
	return !status.IsClean(), nil
}

// GitURLInfo is the host/owner/repo triple of a remote.
type GitURLInfo struct {
	Host  string
	Owner string
	Repo  string
}

var sshURLPattern = regexp.MustCompile(`^git@([^:]+):([^/]+)/(.+?)(?:\.git)?$`)

// ParseGitURL accepts https and scp-style ssh remotes.
func ParseGitURL(gitURL string) (GitURLInfo, error) {
	gitURL = strings.TrimSpace(gitURL)
	if gitURL == "" {
		return GitURLInfo{}, fmt.Errorf("URL cannot be empty")
	}
	if m := sshURLPattern.FindStringSubmatch(gitURL); m != nil {
		return GitURLInfo{Host: m[1], Owner: m[2], Repo: m[3]}, nil
	}

	u, err := url.Parse(gitURL)
	if err != nil {
		return GitURLInfo{}, fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Host == "" {
		return GitURLInfo{}, fmt.Errorf("URL missing host component")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return GitURLInfo{}, fmt.Errorf("URL path should contain owner/repo: %s", u.Path)
	}
	return GitURLInfo{Host: u.Host, Owner: parts[0], Repo: strings.TrimSuffix(parts[1], ".git")}, nil
}

// NormalizeRemoteURL converts any supported remote to https://host/owner/repo.git.
func NormalizeRemoteURL(gitURL string) (string, error) {
	info, err := ParseGitURL(gitURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s/%s/%s.git", info.Host, info.Owner, info.Repo), nil
}

// DeriveClonePath is clonesDir/<owner>-<repo>, lowercased.
func DeriveClonePath(clonesDir, remoteURL string) (string, error) {
	info, err := ParseGitURL(remoteURL)
	if err != nil {
		return "", err
	}
	name, err := fileops.SanitizeIdentifier(strings.ToLower(info.Owner+"-"+info.Repo), 100)
	if err != nil {
		return "", err
	}
	return filepath.Join(clonesDir, name), nil
}

// ValidateCloneDirectory classifies clonePath relative to the expected remote.
func ValidateCloneDirectory(clonePath, expectedRemoteURL string) (DirectoryStatus, error) {
	info, err := os.Stat(clonePath)
	if os.IsNotExist(err) {
		return DirectoryStatusEmpty, nil
	}
	if err != nil {
		return DirectoryStatusError, fmt.Errorf("cannot access directory %s: %w", clonePath, err)
	}
	if !info.IsDir() {
		return DirectoryStatusError, fmt.Errorf("path exists but is not a directory: %s", clonePath)
	}

	entries, err := os.ReadDir(clonePath)
	if err != nil {
		return DirectoryStatusError, fmt.Errorf("cannot read directory: %w", err)
	}
	if len(entries) == 0 {
		return DirectoryStatusEmpty, nil
	}

	current, err := originURL(clonePath)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return DirectoryStatusConflict, fmt.Errorf("directory contains non-git content: %s", clonePath)
		}
		return DirectoryStatusError, err
	}
	if comparableURL(current) == comparableURL(expectedRemoteURL) {
		return DirectoryStatusSameRepo, nil
	}
	return DirectoryStatusDifferentRepo, fmt.Errorf("directory contains different repository (current: %s, expected: %s)", current, expectedRemoteURL)
}

func originURL(repoPath string) (string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", err
		}
		return "", fmt.Errorf("cannot open git repository: %w", err)
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("cannot get origin remote: %w", err)
	}
	cfg := remote.Config()
	if cfg == nil || len(cfg.URLs) == 0 {
		return "", fmt.Errorf("no URLs configured for origin remote")
	}
	return cfg.URLs[0], nil
}

// comparableURL strips scheme and .git so ssh and https remotes compare equal.
func comparableURL(gitURL string) string {
	info, err := ParseGitURL(gitURL)
	if err != nil {
		return strings.TrimSuffix(strings.TrimSpace(gitURL), ".git")
	}
	return strings.ToLower(info.Host + "/" + info.Owner + "/" + info.Repo)
}
