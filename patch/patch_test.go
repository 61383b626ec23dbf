package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		anchor      string
		replacement string
		want        string
		wantErr     error
	}{
		{
			name:        "single occurrence replaced",
			content:     "a = 1\nx = 1/0\nb = 2\n",
			anchor:      "x = 1/0",
			replacement: "x = safe_divide(1, 0)",
			want:        "a = 1\nx = safe_divide(1, 0)\nb = 2\n",
		},
		{
			name:        "multi-line anchor",
			content:     "def f():\n    return 1/0\n\nprint(f())\n",
			anchor:      "def f():\n    return 1/0\n",
			replacement: "def f():\n    return 0\n",
			want:        "def f():\n    return 0\n\nprint(f())\n",
		},
		{
			name:    "anchor absent",
			content: "a = 1\n",
			anchor:  "x = 1/0",
			want:    "a = 1\n",
			wantErr: ErrAnchorNotFound,
		},
		{
			name:    "anchor repeated",
			content: "x = 1/0\nx = 1/0\n",
			anchor:  "x = 1/0",
			want:    "x = 1/0\nx = 1/0\n",
			wantErr: ErrAnchorAmbiguous,
		},
		{
			name:    "empty anchor",
			content: "a = 1\n",
			anchor:  "",
			want:    "a = 1\n",
			wantErr: ErrAnchorNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.content, tt.anchor, tt.replacement)
			assert.Equal(t, tt.want, got)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrPatchTarget)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, count("abc", ""))
	assert.Equal(t, 2, count("abab", "ab"))
	assert.Equal(t, 1, count("abc", "abc"))
}

func TestWritePreservesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("echo hi\n"), 0o755))

	require.NoError(t, Write(path, "echo bye\n"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "echo bye\n", string(b))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestWriteFailure(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "missing", "dir", "f.go"), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
}

func TestUnifiedDiff(t *testing.T) {
	before := "l1\nl2\nl3\nl4\nx = 1/0\nl6\nl7\nl8\nl9\n"
	after, err := Apply(before, "x = 1/0", "x = safe_divide(1, 0)")
	require.NoError(t, err)

	out, err := UnifiedDiff("app/main.py", before, after)
	require.NoError(t, err)
	assert.Contains(t, out, "--- a/app/main.py")
	assert.Contains(t, out, "+++ b/app/main.py")
	assert.Contains(t, out, "-x = 1/0\n")
	assert.Contains(t, out, "+x = safe_divide(1, 0)\n")

	fd, err := diff.ParseFileDiff([]byte(out))
	require.NoError(t, err)
	require.Len(t, fd.Hunks, 1)
	h := fd.Hunks[0]
	assert.Equal(t, int32(2), h.OrigStartLine)
	assert.Equal(t, int32(7), h.OrigLines)
	assert.Equal(t, int32(7), h.NewLines)
}

func TestUnifiedDiffAddsLines(t *testing.T) {
	before := "a\nb\n"
	after := "a\nb\nc\nd\n"
	out, err := UnifiedDiff("f.txt", before, after)
	require.NoError(t, err)
	assert.Contains(t, out, " a\n b\n+c\n+d\n")
	assert.Equal(t, 0, strings.Count(out, "\n-a"))
}

func TestUnifiedDiffEqual(t *testing.T) {
	out, err := UnifiedDiff("f.txt", "same\n", "same\n")
	require.NoError(t, err)
	assert.Empty(t, out)
}
