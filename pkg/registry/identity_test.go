package registry

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{
			name: "keys sorted at every depth",
			in: map[string]any{
				"b": map[string]any{"z": 1, "a": 2},
				"a": "x",
			},
			want: `{"a":"x","b":{"a":2,"z":1}}`,
		},
		{
			name: "array order preserved",
			in:   map[string]any{"list": []any{"c", "a", "b"}},
			want: `{"list":["c","a","b"]}`,
		},
		{
			name: "no html escaping",
			in:   map[string]any{"smiles": "C1=CC<O>&N"},
			want: `{"smiles":"C1=CC<O>&N"}`,
		},
		{
			name: "empty object",
			in:   map[string]any{},
			want: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The id definition is an external contract: the expectation is computed
// from the literal canonical string, not through the code under test.
func TestJobIDBitExact(t *testing.T) {
	params := map[string]any{
		"structure": "[H]C1...",
		"threshold": "70",
	}

	id, err := JobID("SIMILARITY", params, map[string]string{})
	require.NoError(t, err)

	canonical := `{"job_input_files_hashes":{},"structure":"[H]C1...","threshold":"70"}`
	sum := sha256.Sum256([]byte(canonical))
	want := "SIMILARITY-" + base64.URLEncoding.EncodeToString(sum[:])

	assert.Equal(t, want, id)
}

func TestJobIDStability(t *testing.T) {
	params := map[string]any{
		"threshold": "70",
		"structure": "CCO",
		"nested":    map[string]any{"b": "2", "a": "1"},
	}
	hashes := map[string]string{
		"file_b": "bbbb",
		"file_a": "aaaa",
	}

	first, err := JobID("SIMILARITY", params, hashes)
	require.NoError(t, err)

	// Rebuilt maps exercise a different insertion order.
	second, err := JobID("SIMILARITY",
		map[string]any{
			"nested":    map[string]any{"a": "1", "b": "2"},
			"structure": "CCO",
			"threshold": "70",
		},
		map[string]string{"file_a": "aaaa", "file_b": "bbbb"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestJobIDInputsMatter(t *testing.T) {
	params := map[string]any{"structure": "CCO"}

	base, err := JobID("SIMILARITY", params, nil)
	require.NoError(t, err)

	otherType, err := JobID("MMV", params, nil)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherType)

	otherParams, err := JobID("SIMILARITY", map[string]any{"structure": "CCN"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherParams)

	withFile, err := JobID("SIMILARITY", params, map[string]string{"f": "deadbeef"})
	require.NoError(t, err)
	assert.NotEqual(t, base, withFile)
}

func TestJobIDNilHashesEqualsEmpty(t *testing.T) {
	params := map[string]any{"structure": "CCO"}

	withNil, err := JobID("SIMILARITY", params, nil)
	require.NoError(t, err)
	withEmpty, err := JobID("SIMILARITY", params, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, withNil, withEmpty)
}
