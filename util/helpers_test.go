package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain purl unchanged",
			input: "pkg:npm/lodash@4.17.20",
			want:  "pkg:npm/lodash@4.17.20",
		},
		{
			name:  "qualifiers dropped",
			input: "pkg:rpm/openeuler/zlib@1.2.11?arch=x86_64&distro=openeuler-22.03",
			want:  "pkg:rpm/openeuler/zlib@1.2.11",
		},
		{
			name:  "subpath dropped",
			input: "pkg:golang/github.com/gin-gonic/gin@1.9.0#internal/json",
			want:  "pkg:golang/github.com/gin-gonic/gin@1.9.0",
		},
		{
			name:  "case folded",
			input: "pkg:maven/org.Apache/Commons-Lang3@3.12.0",
			want:  "pkg:maven/org.apache/commons-lang3@3.12.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalPURL(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalPURLInvalid(t *testing.T) {
	_, err := CanonicalPURL("not-a-purl")
	assert.Error(t, err)
}

func TestCanonicalPURLSameComponentSameIdentity(t *testing.T) {
	a, err := CanonicalPURL("pkg:rpm/openeuler/curl@7.79.1?arch=aarch64")
	require.NoError(t, err)
	b, err := CanonicalPURL("pkg:rpm/openeuler/curl@7.79.1?arch=x86_64&epoch=1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGetBasePURL(t *testing.T) {
	base, err := GetBasePURL("pkg:npm/lodash@4.17.20")
	require.NoError(t, err)
	assert.Equal(t, "pkg:npm/lodash", base)
}

func TestPurlName(t *testing.T) {
	assert.Equal(t, "zlib", PurlName("pkg:rpm/openeuler/zlib@1.2.11"))
	// unparsable input falls back to the raw string
	assert.Equal(t, "garbage", PurlName("garbage"))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"MIT", "GPL-2.0"}, "GPL-2.0"))
	assert.False(t, Contains([]string{"MIT"}, "GPL-2.0"))
	assert.False(t, Contains(nil, "MIT"))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty("   "))
	assert.False(t, IsEmpty("x"))
	assert.True(t, IsNotEmpty("x"))
}

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("SBOM_ENRICH_TEST_VAR", "set")
	assert.Equal(t, "set", GetEnvDefault("SBOM_ENRICH_TEST_VAR", "fallback"))
	assert.Equal(t, "fallback", GetEnvDefault("SBOM_ENRICH_TEST_VAR_MISSING", "fallback"))
}
