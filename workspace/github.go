package workspace

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gogh "github.com/google/go-github/v68/github"
)

// GitHubResolver turns "owner/repo" shorthand into a clone URL.
type GitHubResolver struct {
	gh *gogh.Client
}

// NewGitHubResolver creates a resolver. An empty token uses anonymous access.
func NewGitHubResolver(token string) *GitHubResolver {
	gh := gogh.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	return &GitHubResolver{gh: gh}
}

// WithBaseURL points the resolver at another API root, such as GitHub
// Enterprise or a test server.
func (r *GitHubResolver) WithBaseURL(base string) (*GitHubResolver, error) {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing GitHub base URL: %w", err)
	}
	r.gh.BaseURL = u
	return r, nil
}

// Resolve returns the HTTPS clone URL of the named repository.
func (r *GitHubResolver) Resolve(ctx context.Context, fullName string) (string, error) {
	owner, repo, err := splitRepo(fullName)
	if err != nil {
		return "", err
	}

	gr, _, err := r.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}
	if gr.GetCloneURL() == "" {
		return "", fmt.Errorf("repository %s has no clone URL", fullName)
	}
	return gr.GetCloneURL(), nil
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", fmt.Errorf("invalid repo format %q, expected \"owner/repo\"", fullName)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
