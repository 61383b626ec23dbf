package refactorgen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jxucoder/refactorgen/discovery"
	"github.com/jxucoder/refactorgen/eventbus"
	"github.com/jxucoder/refactorgen/internal/config"
	"github.com/jxucoder/refactorgen/metrics"
	"github.com/jxucoder/refactorgen/notify"
	"github.com/jxucoder/refactorgen/oracle"
	sqliteStore "github.com/jxucoder/refactorgen/store/sqlite"
	"github.com/jxucoder/refactorgen/validate"
	"github.com/jxucoder/refactorgen/workspace"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	if !b.configured {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		b.config = *cfg
	}
	if b.config.MaxConcurrentRuns < 1 {
		b.config.MaxConcurrentRuns = 1
	}

	if b.config.DatabasePath == "" && b.config.DataDir != "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "refactorgen.db")
	}
	if b.config.WorkspaceDir == "" {
		b.config.WorkspaceDir = filepath.Join(os.TempDir(), "refactorgen-workspaces")
	}
	if err := os.MkdirAll(b.config.WorkspaceDir, 0o755); err != nil {
		return fmt.Errorf("creating workspace directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	if b.metrics == nil {
		b.metrics = metrics.New()
	}

	// Repository acquisition.
	if b.acquirer == nil {
		b.acquirer = workspace.NewAcquirer(workspace.NewGitHubResolver(b.config.GitHubToken))
	}

	// Oracle client. Without a key every oracle call fails, which the
	// gateway reports per issue.
	if b.client == nil && b.config.Oracle.APIKey != "" {
		client, err := oracle.NewClient(oracle.ClientConfig{
			Provider: b.config.Oracle.Provider,
			BaseURL:  b.config.Oracle.BaseURL,
			APIKey:   b.config.Oracle.APIKey,
			Model:    b.config.Oracle.Model,
		})
		if err != nil {
			return fmt.Errorf("creating oracle client: %w", err)
		}
		b.client = client
	}

	// Validation.
	if b.validator == nil {
		v := b.config.Validation
		runner := validate.NewRunner(v.Command, v.Timeout, v.MaxOutput)
		runner.Lint = v.Lint
		b.validator = runner
	}

	// Notifications.
	if b.notifier == nil {
		if b.config.SlackEnabled() {
			b.notifier = notify.NewSlack(b.config.SlackBotToken, b.config.SlackChannel)
		} else {
			b.notifier = notify.Nop{}
		}
	}

	return nil
}

func newScanner(cfg Config, analyzer discovery.Analyzer) *discovery.Scanner {
	s := discovery.NewScanner(analyzer)
	d := cfg.Discovery
	if len(d.Excludes) > 0 {
		s.Excludes = append(append([]string{}, discovery.DefaultExcludes...), d.Excludes...)
	}
	if d.MinLines > 0 {
		s.MinLines = d.MinLines
	}
	if d.MaxFileBytes > 0 {
		s.MaxFileBytes = d.MaxFileBytes
	}
	s.MaxIssues = d.MaxIssues
	return s
}
