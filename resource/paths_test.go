package resource

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasInvalidChars(t *testing.T) {
	for path, want := range map[string]bool{
		"music/ex2/BGM_EX2_System_Title.scd": false,
		"ui/uld/Title_Logo400.uld":           false,
		"":                                   false,
		"chara/<generated>.tex":              true,
		"a|b":                                true,
		"\"quoted\"":                         true,
		"tab\there":                          true,
		"nul\x00":                            true,
	} {
		assert.Equal(t, want, HasInvalidChars(path), "path %q", path)
	}
}

func TestOverridePath(t *testing.T) {
	root := filepath.Join("work", "ResourceHook")
	got, ok := OverridePath(root, "music/ex2/BGM_EX2_System_Title.scd")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "music", "ex2", "BGM_EX2_System_Title.scd"), got)

	for _, p := range []string{"", "../secrets.txt", "music/../../x", "a<b"} {
		_, ok := OverridePath(root, p)
		assert.False(t, ok, "path %q", p)
	}
}
