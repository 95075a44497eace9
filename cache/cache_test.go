package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensbom/sbom-enrich/model"
)

func TestLicenseStandardMap(t *testing.T) {
	m := NewLicenseStandardMap()

	// unmapped names pass through unchanged
	assert.Equal(t, "MIT License", m.Standardize("MIT License"))

	m.Put("MIT License", "MIT")
	assert.Equal(t, "MIT", m.Standardize("MIT License"))
	// lookups are case-insensitive
	assert.Equal(t, "MIT", m.Standardize("mit license"))
}

func TestLicenseStandardMapLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.yml")
	content := "MIT License: MIT\nGNU General Public License v2.0: GPL-2.0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m := NewLicenseStandardMap()
	require.NoError(t, m.LoadFile(path))

	assert.Equal(t, "MIT", m.Standardize("mit license"))
	assert.Equal(t, "GPL-2.0", m.Standardize("GNU General Public License v2.0"))
	assert.Equal(t, "Apache-2.0", m.Standardize("Apache-2.0"))
}

func TestLicenseStandardMapLoadFileMissing(t *testing.T) {
	m := NewLicenseStandardMap()
	assert.Error(t, m.LoadFile(filepath.Join(t.TempDir(), "nope.yml")))
}

func TestLicenseObjectCache(t *testing.T) {
	c := NewLicenseObjectCache()

	mit := c.Get("MIT", true)
	assert.Equal(t, "MIT", mit.Spdx)
	assert.True(t, mit.IsLegal)

	// same identifier returns the same object, legality fixed on creation
	again := c.Get("MIT", false)
	assert.Same(t, mit, again)
	assert.True(t, again.IsLegal)

	c.Get("GPL-2.0", false)
	assert.Equal(t, 2, c.Len())
}

func TestRepoMetaCacheFetchesOnce(t *testing.T) {
	calls := 0
	c := NewRepoMetaCache(func(repoName, branch string) (*model.RepoMeta, error) {
		calls++
		meta := model.NewRepoMeta()
		meta.RepoName = repoName
		meta.Branch = branch
		return meta, nil
	})

	first, err := c.Get("zlib", "openEuler-22.03")
	require.NoError(t, err)
	second, err := c.Get("zlib", "openEuler-22.03")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	_, err = c.Get("zlib", "master")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRepoMetaCacheFetchError(t *testing.T) {
	c := NewRepoMetaCache(func(repoName, branch string) (*model.RepoMeta, error) {
		return nil, errors.New("connection refused")
	})

	_, err := c.Get("zlib", "master")
	assert.Error(t, err)
}
