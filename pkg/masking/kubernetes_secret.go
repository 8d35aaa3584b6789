package masking

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedSecretValue replaces every value of a Secret's data and stringData.
const MaskedSecretValue = "[MASKED_SECRET_DATA]"

var (
	yamlSecretKind = regexp.MustCompile(`(?m)^\s*kind:\s*Secret(List)?\s*$`)
	jsonSecretKind = regexp.MustCompile(`"kind"\s*:\s*"Secret(List)?"`)
)

// KubernetesSecretMasker redacts the data of Kubernetes Secret manifests in
// YAML or JSON, including Secrets nested in lists and the
// last-applied-configuration annotation. Other kinds are left alone.
type KubernetesSecretMasker struct{}

// Name implements Masker.
func (KubernetesSecretMasker) Name() string { return "kubernetes_secret" }

// AppliesTo implements Masker.
func (KubernetesSecretMasker) AppliesTo(data string) bool {
	return strings.Contains(data, "Secret") &&
		(yamlSecretKind.MatchString(data) || jsonSecretKind.MatchString(data))
}

// Mask implements Masker.
func (m KubernetesSecretMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "{") {
		if out, ok := m.maskJSON(data); ok {
			return out
		}
	}
	if out, ok := m.maskYAML(data); ok {
		return out
	}
	return data
}

func (KubernetesSecretMasker) maskJSON(data string) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return "", false
	}
	if !maskResource(doc) {
		return "", false
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", false
	}
	return keepTrailingNewline(data, string(out)), true
}

func (KubernetesSecretMasker) maskYAML(data string) (string, bool) {
	dec := yaml.NewDecoder(strings.NewReader(data))
	var docs []map[string]any
	masked := false
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", false
		}
		if doc == nil {
			continue
		}
		if maskResource(doc) {
			masked = true
		}
		docs = append(docs, doc)
	}
	if !masked {
		return "", false
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return "", false
		}
	}
	if err := enc.Close(); err != nil {
		return "", false
	}
	return keepTrailingNewline(data, strings.TrimRight(buf.String(), "\n")), true
}

// maskResource redacts res when it is a Secret and recurses into list items.
// It reports whether a Secret was found.
func maskResource(res map[string]any) bool {
	kind, _ := res["kind"].(string)
	if kind == "Secret" {
		maskSecret(res)
		return true
	}
	if !strings.HasSuffix(kind, "List") {
		return false
	}

	found := false
	items, _ := res["items"].([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if kind == "SecretList" {
			maskSecret(m)
			found = true
		} else if maskResource(m) {
			found = true
		}
	}
	return found
}

func maskSecret(res map[string]any) {
	for _, field := range []string{"data", "stringData"} {
		if values, ok := res[field].(map[string]any); ok {
			for k := range values {
				values[k] = MaskedSecretValue
			}
		}
	}
	maskLastApplied(res)
}

// maskLastApplied rewrites annotations that embed a Secret as JSON.
func maskLastApplied(res map[string]any) {
	meta, _ := res["metadata"].(map[string]any)
	annotations, _ := meta["annotations"].(map[string]any)
	for key, val := range annotations {
		s, ok := val.(string)
		if !ok || !strings.Contains(s, "Secret") {
			continue
		}
		var embedded map[string]any
		if err := json.Unmarshal([]byte(s), &embedded); err != nil {
			continue
		}
		if maskResource(embedded) {
			if out, err := json.Marshal(embedded); err == nil {
				annotations[key] = string(out)
			}
		}
	}
}

func keepTrailingNewline(orig, out string) string {
	if strings.HasSuffix(orig, "\n") && !strings.HasSuffix(out, "\n") {
		return out + "\n"
	}
	return out
}
