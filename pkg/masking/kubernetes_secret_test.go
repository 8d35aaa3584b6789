package masking

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKubernetesSecretMasker_AppliesTo(t *testing.T) {
	m := KubernetesSecretMasker{}
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"yaml secret", "apiVersion: v1\nkind: Secret\n", true},
		{"yaml secret list", "kind: SecretList\nitems: []\n", true},
		{"json secret", `{"kind": "Secret"}`, true},
		{"configmap", "kind: ConfigMap\n", false},
		{"mention only", "the Secret was rotated", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.AppliesTo(tt.data))
		})
	}
}

func TestKubernetesSecretMasker_YAML(t *testing.T) {
	input := `apiVersion: v1
kind: Secret
metadata:
  name: db-creds
data:
  password: c3VwZXJzZWNyZXQ=
stringData:
  user: admin
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
data:
  mode: fast
`
	out := KubernetesSecretMasker{}.Mask(input)

	assert.NotContains(t, out, "c3VwZXJzZWNyZXQ=")
	assert.NotContains(t, out, "user: admin")
	assert.Equal(t, 2, strings.Count(out, MaskedSecretValue))
	assert.Contains(t, out, "mode: fast", "non-secret documents are untouched")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestKubernetesSecretMasker_JSONList(t *testing.T) {
	input := `{
  "kind": "List",
  "items": [
    {"kind": "Secret", "metadata": {"name": "a"}, "data": {"token": "dG9rZW4="}},
    {"kind": "ConfigMap", "metadata": {"name": "b"}, "data": {"k": "v"}}
  ]
}`
	out := KubernetesSecretMasker{}.Mask(input)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	items := doc["items"].([]any)
	secret := items[0].(map[string]any)["data"].(map[string]any)
	config := items[1].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, MaskedSecretValue, secret["token"])
	assert.Equal(t, "v", config["k"])
}

func TestKubernetesSecretMasker_SecretListAndAnnotation(t *testing.T) {
	lastApplied := `{"apiVersion":"v1","kind":"Secret","data":{"key":"aGlkZGVu"}}`
	annotated, err := json.Marshal(map[string]any{
		"kind": "Secret",
		"metadata": map[string]any{
			"annotations": map[string]any{
				"kubectl.kubernetes.io/last-applied-configuration": lastApplied,
			},
		},
		"data": map[string]any{"key": "aGlkZGVu"},
	})
	require.NoError(t, err)

	out := KubernetesSecretMasker{}.Mask(string(annotated))
	assert.NotContains(t, out, "aGlkZGVu")

	list := "kind: SecretList\nitems:\n  - metadata:\n      name: x\n    data:\n      k: dmFsdWU=\n"
	out = KubernetesSecretMasker{}.Mask(list)
	assert.NotContains(t, out, "dmFsdWU=")
	assert.Contains(t, out, MaskedSecretValue)
}

func TestKubernetesSecretMasker_UnparseableUnchanged(t *testing.T) {
	input := "kind: Secret\ndata: [unclosed"
	assert.Equal(t, input, KubernetesSecretMasker{}.Mask(input))
}
