package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// hashesField is the synthetic key merged into the submission parameters
// before hashing, mapping each file form field to the hex sha256 of the
// file's bytes.
const hashesField = "job_input_files_hashes"

// CanonicalJSON serialises v compactly with recursively sorted object keys
// and no HTML escaping. Array order is preserved.
//
// encoding/json already emits map keys in sorted order at every depth, so
// canonicalisation reduces to disabling HTML escaping and trimming the
// encoder's trailing newline.
func CanonicalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal canonical payload: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// JobID derives the content-addressed job identity:
//
//	<type>-<base64url(sha256(canonicalJSON(params + {job_input_files_hashes: inputHashes})))>
//
// The id is a pure function of its inputs: key order in params and
// iteration order of inputHashes do not affect it. This definition is part
// of the external contract and is pinned bit-exact by tests.
func JobID(jobType string, params map[string]any, inputHashes map[string]string) (string, error) {
	if inputHashes == nil {
		inputHashes = map[string]string{}
	}

	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload[hashesField] = inputHashes

	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(canonical))
	return jobType + "-" + base64.URLEncoding.EncodeToString(sum[:]), nil
}
