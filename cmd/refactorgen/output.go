package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/jxucoder/refactorgen/model"
)

var (
	statusColor  = color.New(color.FgCyan)
	okColor      = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.Faint)
	headingColor = color.New(color.Bold)
)

func statusIcon(status model.RunStatus) string {
	switch status {
	case model.RunPending:
		return warnColor.Sprint("⏳ pending")
	case model.RunRunning:
		return statusColor.Sprint("🔄 running")
	case model.RunComplete:
		return okColor.Sprint("✅ complete")
	case model.RunError:
		return errorColor.Sprint("❌ error")
	case model.RunCanceled:
		return warnColor.Sprint("⏹ canceled")
	default:
		return string(status)
	}
}

func kindLabel(kind model.StatusKind) string {
	label := kind.Label()
	switch {
	case kind.Verified():
		return okColor.Sprint(label)
	case kind == model.KindRejectedBothFailed || kind == model.KindFaulted || kind == model.KindIOFailed:
		return errorColor.Sprint(label)
	default:
		return warnColor.Sprint(label)
	}
}

// printReport writes a human-readable report. With diffs set, accepted
// attempts include their unified diff.
func printReport(w io.Writer, report *model.Report, diffs bool) {
	if report == nil {
		return
	}
	if len(report.Records) == 0 {
		fmt.Fprintln(w, "No high-priority issues found to fix.")
		return
	}

	for _, rec := range report.Records {
		headingColor.Fprintf(w, "#%d %s", rec.Seq, rec.Issue.FilePath)
		fmt.Fprintf(w, "  %s\n", kindLabel(rec.Kind))
		if rec.Issue.Description != "" {
			fmt.Fprintf(w, "   %s\n", rec.Issue.Description)
		}
		if rec.Message != "" {
			dimColor.Fprintf(w, "   %s\n", firstLine(rec.Message))
		}
		if rec.Accepted != nil {
			if rec.Accepted.Explanation != "" {
				fmt.Fprintf(w, "   %s\n", firstLine(rec.Accepted.Explanation))
			}
			if diffs && rec.Accepted.Diff != "" {
				printDiff(w, rec.Accepted.Diff)
			}
		}
	}

	counts := report.Counts()
	verified := counts[model.KindVerified] + counts[model.KindVerifiedAfterCorrection]
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s of %d issues verified\n", okColor.Sprint(verified), len(report.Records))
}

func printDiff(w io.Writer, diff string) {
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			headingColor.Fprintln(w, "   "+line)
		case strings.HasPrefix(line, "+"):
			okColor.Fprintln(w, "   "+line)
		case strings.HasPrefix(line, "-"):
			errorColor.Fprintln(w, "   "+line)
		case strings.HasPrefix(line, "@@"):
			statusColor.Fprintln(w, "   "+line)
		default:
			fmt.Fprintln(w, "   "+line)
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
