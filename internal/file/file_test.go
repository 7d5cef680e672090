package file

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	t.Run("Should replace content and leave no temp files", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		path := "data/jobs/x/labels.pdf"

		require.NoError(t, WriteAtomic(fs, path, strings.NewReader("first")))
		require.NoError(t, WriteAtomic(fs, path, strings.NewReader("second")))
		got, err := afero.ReadFile(fs, path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))

		entries, err := afero.ReadDir(fs, "data/jobs/x")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Should encode JSON", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, WriteJSONAtomic(fs, "a/status.json", map[string]int{"pages": 3}))
		raw, err := afero.ReadFile(fs, "a/status.json")
		require.NoError(t, err)
		var got map[string]int
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, 3, got["pages"])
	})

	t.Run("Should reject empty paths", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		assert.Error(t, EnsureDir(fs, ""))
		assert.Error(t, WriteAtomic(fs, "", strings.NewReader("x")))
	})
}
