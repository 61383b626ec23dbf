// Package discovery walks a working tree and asks the oracle for the single
// most critical issue in each supported source file.
package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jxucoder/refactorgen/model"
	"github.com/jxucoder/refactorgen/oracle"
)

// Languages maps file extensions to the language name sent to the analyzer.
var Languages = map[string]string{
	".py":   "Python",
	".java": "Java",
	".cpp":  "C++",
	".c":    "C",
	".h":    "C++",
	".js":   "JavaScript",
	".ts":   "TypeScript",
	".html": "HTML",
	".css":  "CSS",
}

// DefaultExcludes are skipped unless the caller provides its own list.
var DefaultExcludes = []string{
	".git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/*.min.js",
}

const (
	DefaultMinLines     = 10
	DefaultMaxFileBytes = 256 * 1024
)

// Analyzer finds the most critical issue in one file. oracle.Gateway
// implements it.
type Analyzer interface {
	FindIssue(ctx context.Context, content, language string) (*oracle.Finding, error)
}

// Scanner produces the issue list for a repair run.
type Scanner struct {
	Analyzer     Analyzer
	Languages    map[string]string
	Excludes     []string
	MinLines     int
	MaxFileBytes int64
	// MaxIssues stops the scan once this many issues are found. Zero means no limit.
	MaxIssues int
	Logger    *slog.Logger
}

// NewScanner creates a Scanner with the default language map and limits.
func NewScanner(analyzer Analyzer) *Scanner {
	return &Scanner{
		Analyzer:     analyzer,
		Languages:    Languages,
		Excludes:     DefaultExcludes,
		MinLines:     DefaultMinLines,
		MaxFileBytes: DefaultMaxFileBytes,
	}
}

// Discover returns at most one issue per supported file, ordered by path.
// A failed analysis of one file is logged and skipped.
func (s *Scanner) Discover(ctx context.Context, repoPath string) ([]model.Issue, error) {
	if s.Analyzer == nil {
		return nil, fmt.Errorf("discovery: no analyzer configured")
	}
	files, err := s.Candidates(repoPath)
	if err != nil {
		return nil, err
	}

	var issues []model.Issue
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.MaxIssues > 0 && len(issues) >= s.MaxIssues {
			s.logger().Info("Issue limit reached, stopping scan", "limit", s.MaxIssues)
			break
		}

		issue, ok := s.analyze(ctx, repoPath, f)
		if ok {
			issues = append(issues, issue)
		}
	}
	s.logger().Info("Discovery complete", "repo", repoPath, "files", len(files), "issues", len(issues))
	return issues, nil
}

// Candidates lists the repo-relative paths of files that will be analyzed.
func (s *Scanner) Candidates(repoPath string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if d.Name() == ".git" || s.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.excluded(rel) {
			return nil
		}
		if _, ok := s.language(rel); !ok {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", repoPath, err)
	}
	return out, nil
}

func (s *Scanner) analyze(ctx context.Context, repoPath, rel string) (model.Issue, bool) {
	lang, _ := s.language(rel)
	log := s.logger().With("file", rel, "language", lang)

	full := filepath.Join(repoPath, filepath.FromSlash(rel))
	fi, err := os.Stat(full)
	if err != nil {
		log.Warn("Skipping unreadable file", "error", err)
		return model.Issue{}, false
	}
	if s.MaxFileBytes > 0 && fi.Size() > s.MaxFileBytes {
		log.Debug("Skipping large file", "bytes", fi.Size())
		return model.Issue{}, false
	}

	data, err := os.ReadFile(full)
	if err != nil {
		log.Warn("Skipping unreadable file", "error", err)
		return model.Issue{}, false
	}
	if !utf8.Valid(data) {
		log.Debug("Skipping non UTF-8 file")
		return model.Issue{}, false
	}
	content := string(data)
	if countLines(content) < s.MinLines {
		return model.Issue{}, false
	}

	log.Info("Analyzing file")
	finding, err := s.Analyzer.FindIssue(ctx, content, lang)
	if err != nil {
		log.Warn("Analysis failed, skipping file", "error", err)
		return model.Issue{}, false
	}
	if !finding.IssueFound || strings.TrimSpace(finding.Snippet) == "" {
		return model.Issue{}, false
	}

	return model.Issue{
		FilePath:    rel,
		Snippet:     finding.Snippet,
		Description: finding.Description,
		Language:    lang,
	}, true
}

func (s *Scanner) language(rel string) (string, bool) {
	langs := s.Languages
	if langs == nil {
		langs = Languages
	}
	lang, ok := langs[strings.ToLower(filepath.Ext(rel))]
	return lang, ok
}

func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.Excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		// Directory patterns like "vendor/**" also match "vendor/".
		if strings.HasSuffix(rel, "/") {
			if ok, _ := doublestar.Match(pattern, strings.TrimSuffix(rel, "/")); ok {
				return true
			}
		}
	}
	return false
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
