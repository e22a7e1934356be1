package output_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/jamesainslie/attest/pkg/attest/catalog"
	"github.com/jamesainslie/attest/pkg/attest/output"
	"github.com/jamesainslie/attest/pkg/attest/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleReport() *types.Report {
	return &types.Report{
		Root:      "/media/photos",
		Algorithm: "sha256",
		Counters: types.Counters{
			Good:          10,
			Updated:       2,
			New:           1,
			Missing:       1,
			LikelyDamaged: 1,
		},
		MissingFiles: []string{"gone.txt"},
		DamagedFiles: []string{"rotted.jpg"},
		Errors: []types.FileError{
			{Path: "locked.txt", Message: "permission denied", Kind: types.KindUnreadable},
		},
		FilesScanned: 13,
		BytesHashed:  1 << 20,
		Elapsed:      1500 * time.Millisecond,
	}
}

func sampleGroups() []catalog.DuplicateGroup {
	return []catalog.DuplicateGroup{
		{Digest: "aabb", Count: 2, Files: []string{"a/one.bin", "b/two.bin"}},
	}
}

func TestRegistryRejectsUnknownFormatter(t *testing.T) {
	_, err := output.Get("dot-matrix")
	assert.Error(t, err)
}

func TestAvailableFormatters(t *testing.T) {
	names := output.Available()
	for _, want := range []string{"json", "plain", "pretty", "yaml"} {
		assert.Contains(t, names, want)
	}
}

func TestPlainReport(t *testing.T) {
	f, err := output.Get("plain")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.FormatReport(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "root: /media/photos\n")
	assert.Contains(t, out, "good: 10\n")
	assert.Contains(t, out, "likely-damaged: 1\n")
	assert.Contains(t, out, "damaged: rotted.jpg\n")
	assert.Contains(t, out, "missing-file: gone.txt\n")
	assert.Contains(t, out, "error: unreadable: locked.txt: permission denied\n")
	assert.Contains(t, out, "clean: false\n")
}

func TestJSONReport(t *testing.T) {
	f, err := output.Get("json")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.FormatReport(&buf, sampleReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "/media/photos", decoded["root"])
	assert.Equal(t, "1.5s", decoded["elapsed"])
	assert.Equal(t, false, decoded["clean"])

	counters, ok := decoded["counters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(10), counters["good"])
	assert.Equal(t, float64(1), counters["likely_damaged"])
}

func TestYAMLReport(t *testing.T) {
	f, err := output.Get("yaml")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.FormatReport(&buf, sampleReport()))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "/media/photos", decoded["root"])
	assert.Equal(t, "sha256", decoded["algorithm"])
	assert.Equal(t, false, decoded["clean"])
}

func TestPrettyReport(t *testing.T) {
	f, err := output.Get("pretty")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.FormatReport(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "/media/photos")
	assert.Contains(t, out, "Likely damaged")
	assert.Contains(t, out, "rotted.jpg")
	assert.Contains(t, out, "gone.txt")
	assert.Contains(t, out, "attention required")
}

func TestPlainDuplicates(t *testing.T) {
	f, err := output.Get("plain")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.FormatDuplicates(&buf, sampleGroups()))
	assert.Contains(t, buf.String(), "aabb  a/one.bin\n")
	assert.Contains(t, buf.String(), "groups: 1\n")
}

func TestJSONDuplicates(t *testing.T) {
	f, err := output.Get("json")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.FormatDuplicates(&buf, sampleGroups()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "aabb", decoded[0]["digest"])
	assert.Equal(t, float64(2), decoded[0]["count"])
}
