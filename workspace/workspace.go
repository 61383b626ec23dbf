package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Resolver maps repository shorthand to a clone URL.
type Resolver interface {
	Resolve(ctx context.Context, fullName string) (string, error)
}

var shorthand = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Acquirer materializes a repository into a scratch directory with a shallow
// clone and removes it on release.
type Acquirer struct {
	// Resolver handles owner/repo locators. Nil treats them as plain git URLs.
	Resolver Resolver
	Logger   *slog.Logger
}

// NewAcquirer creates an Acquirer.
func NewAcquirer(resolver Resolver) *Acquirer {
	return &Acquirer{Resolver: resolver}
}

// Acquire clones locator into dest, replacing anything already there.
// Locators may be git URLs, local paths or owner/repo shorthand.
func (a *Acquirer) Acquire(ctx context.Context, locator, dest string) error {
	if strings.TrimSpace(locator) == "" {
		return fmt.Errorf("empty repository locator")
	}
	if err := checkDest(dest); err != nil {
		return err
	}

	source, err := a.source(ctx, locator)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clearing workspace %s: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating workspace parent: %w", err)
	}

	a.logger().Info("Cloning repository", "locator", locator, "source", source, "dest", dest)
	_, _, err = runGit(ctx, "", []string{"GIT_LFS_SKIP_SMUDGE=1", "GIT_TERMINAL_PROMPT=0"},
		"clone", "--depth", "1", "--single-branch", source, dest)
	if err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("cloning %s: %w", locator, err)
	}
	if sha, err := HeadSHA(ctx, dest); err == nil {
		a.logger().Info("Repository acquired", "locator", locator, "commit", sha)
	}
	return nil
}

// Release removes dest. Missing directories are not an error.
func (a *Acquirer) Release(dest string) error {
	if err := checkDest(dest); err != nil {
		return err
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("removing workspace %s: %w", dest, err)
	}
	a.logger().Debug("Released workspace", "dest", dest)
	return nil
}

func (a *Acquirer) source(ctx context.Context, locator string) (string, error) {
	if fi, err := os.Stat(locator); err == nil && fi.IsDir() {
		abs, err := filepath.Abs(locator)
		if err != nil {
			return "", fmt.Errorf("resolving local path: %w", err)
		}
		return abs, nil
	}
	if a.Resolver != nil && shorthand.MatchString(locator) {
		u, err := a.Resolver.Resolve(ctx, locator)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", locator, err)
		}
		return u, nil
	}
	return locator, nil
}

func checkDest(dest string) error {
	clean := filepath.Clean(dest)
	if dest == "" || clean == "/" || clean == "." {
		return fmt.Errorf("refusing to use %q as a workspace directory", dest)
	}
	return nil
}

func (a *Acquirer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
