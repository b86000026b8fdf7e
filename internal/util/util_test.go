package util

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimQuotes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"no quotes", "hello", "hello"},
		{"double quoted", `"C:/dsph/GenCase4.exe"`, "C:/dsph/GenCase4.exe"},
		{"only quotes", `""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TrimQuotes(tt.input))
		})
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single char", "x", nil},
		{"whitespace only", "   ", nil},
		{"one flag", "-tmax:2", []string{"-tmax:2"}},
		{"many flags", "-tmax:2  -dirdataout data", []string{"-tmax:2", "-dirdataout", "data"}},
		{"quotes are not special", `"-a b"`, []string{`"-a`, `b"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitArgs(tt.input))
		})
	}
}

func TestValidateProjectPath(t *testing.T) {
	assert.ErrorIs(t, ValidateProjectPath(""), ErrEmptyPath)
	assert.ErrorIs(t, ValidateProjectPath("/home/user/my case"), ErrPathHasSpace)
	assert.ErrorIs(t, ValidateProjectPath("/home/user/my\tcase"), ErrPathHasSpace)
	assert.NoError(t, ValidateProjectPath("/home/user/dambreak"))
}

func TestAbsProjectPath(t *testing.T) {
	dir := t.TempDir()
	got, err := AbsProjectPath(filepath.Join(dir, "tank") + string(filepath.Separator))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tank"), got)

	got, err = AbsProjectPath(filepath.Join(dir, "a", "..", "tank"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tank"), got)

	_, err = AbsProjectPath("")
	assert.ErrorIs(t, err, ErrEmptyPath)
	_, err = AbsProjectPath(filepath.Join(dir, "my case"))
	assert.ErrorIs(t, err, ErrPathHasSpace)
}

func TestProjectPaths(t *testing.T) {
	root := filepath.Join("/cases", "dambreak")
	assert.Equal(t, "dambreak", ProjectName(root+string(filepath.Separator)))
	assert.Equal(t, filepath.Join(root, "dambreak_Out"), OutDir(root, "dambreak"))
	assert.Equal(t, filepath.Join(root, "dambreak_Def"), DefPath(root, "dambreak"))
}

func TestDetailSection(t *testing.T) {
	out := "GenCase v4\n================================\nerror: no objects\n================================\ntrailer"
	assert.Equal(t, "error: no objects", DetailSection(out))
	assert.Equal(t, "plain output", DetailSection("plain output\n"))
}
