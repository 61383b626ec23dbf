package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"truncated with ellipsis", "hello world", 8, "hello..."},
		{"multibyte runes", "你好世界hello", 6, "你好世..."},
		{"tiny limit no ellipsis", "hello", 2, "he"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.input, tt.maxLen))
		})
	}
}

func TestTruncateHeadKeepsTail(t *testing.T) {
	out := strings.Repeat("a", 100) + "FAIL: TestX"
	got := TruncateHead(out, 11)
	assert.True(t, strings.HasSuffix(got, "FAIL: TestX"))
	assert.True(t, strings.HasPrefix(got, "..."))
	assert.Equal(t, "short", TruncateHead("short", 100))
}

func TestStatusKindVerified(t *testing.T) {
	assert.True(t, KindVerified.Verified())
	assert.True(t, KindVerifiedAfterCorrection.Verified())
	for _, k := range []StatusKind{
		KindSuggestionFailed, KindCorrectionFailed, KindRejectedBothFailed,
		KindPatchTargetAmbiguous, KindIOFailed, KindFaulted,
	} {
		assert.False(t, k.Verified(), k)
		assert.NotEmpty(t, k.Label())
	}
}

func TestReportCounts(t *testing.T) {
	r := &Report{Records: []StatusRecord{
		{Kind: KindVerified}, {Kind: KindVerified}, {Kind: KindSuggestionFailed},
	}}
	counts := r.Counts()
	assert.Equal(t, 2, counts[KindVerified])
	assert.Equal(t, 1, counts[KindSuggestionFailed])
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunPending.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunComplete.Terminal())
	assert.True(t, RunError.Terminal())
	assert.True(t, RunCanceled.Terminal())
}
