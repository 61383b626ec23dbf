// Package notify announces finished repair runs.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/slack-go/slack"

	"github.com/jxucoder/refactorgen/model"
)

// Notifier is told about every run that reaches a terminal state.
// report is nil when the run aborted before producing one.
type Notifier interface {
	RunFinished(ctx context.Context, run *model.Run, report *model.Report) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) RunFinished(context.Context, *model.Run, *model.Report) error { return nil }

// Slack posts a run summary to a channel.
type Slack struct {
	api     *slack.Client
	channel string
}

// NewSlack creates a Slack notifier. Extra options are passed to the client,
// e.g. slack.OptionAPIURL for tests.
func NewSlack(token, channel string, opts ...slack.Option) *Slack {
	return &Slack{
		api:     slack.New(token, opts...),
		channel: channel,
	}
}

// RunFinished posts a Block Kit summary, falling back to plain text.
func (s *Slack) RunFinished(ctx context.Context, run *model.Run, report *model.Report) error {
	headerText := slack.NewTextBlockObject(slack.MarkdownType, Headline(run, report), false, false)
	headerSection := slack.NewSectionBlock(headerText, nil, nil)

	contextBlock := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("Run `%s` | Repo `%s`", run.ID, model.Truncate(run.Locator, 80)),
			false, false),
	)

	blocks := []slack.Block{headerSection}
	if summary := Summary(report); summary != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, summary, false, false), nil, nil))
	}
	blocks = append(blocks, slack.NewDividerBlock(), contextBlock)

	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionBlocks(blocks...))
	if err == nil {
		return nil
	}
	slog.Warn("Slack: failed to post run summary, falling back to text", "run", run.ID, "error", err)

	_, _, err = s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(Headline(run, report), false))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	return nil
}

// Headline is a one-line description of the run outcome.
func Headline(run *model.Run, report *model.Report) string {
	switch run.Status {
	case model.RunComplete:
		verified := 0
		if report != nil {
			for _, rec := range report.Records {
				if rec.Kind.Verified() {
					verified++
				}
			}
		}
		return fmt.Sprintf(":white_check_mark: *Repair run complete*: %d of %d issues verified", verified, run.IssueCount)
	case model.RunCanceled:
		return ":no_entry_sign: *Repair run canceled*"
	default:
		msg := ":x: *Repair run failed*"
		if run.Error != "" {
			msg += ": " + model.Truncate(run.Error, 200)
		}
		return msg
	}
}

// Summary lists record counts by kind, most frequent first.
func Summary(report *model.Report) string {
	if report == nil || len(report.Records) == 0 {
		return ""
	}
	counts := report.Counts()
	kinds := make([]model.StatusKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if counts[kinds[i]] != counts[kinds[j]] {
			return counts[kinds[i]] > counts[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})

	var b strings.Builder
	for _, k := range kinds {
		fmt.Fprintf(&b, "• %s: %d\n", k.Label(), counts[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
