package masking

// builtinPattern is a regex rule shipped with flowscope.
type builtinPattern struct {
	pattern     string
	replacement string
}

var builtinPatterns = map[string]builtinPattern{
	"api_key": {
		pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
		replacement: `"api_key": "__MASKED_API_KEY__"`,
	},
	"password": {
		pattern:     `(?i)(?:password|passwd|pwd)["']?\s*[:=]\s*["']?([^"'\s]{6,})["']?`,
		replacement: `"password": "__MASKED_PASSWORD__"`,
	},
	"token": {
		pattern:     `(?i)(?:token|bearer|jwt)["']?(?:\s*[:=]\s*|\s+)["']?([A-Za-z0-9_\-\.]{20,})["']?`,
		replacement: `"token": "__MASKED_TOKEN__"`,
	},
	"private_key": {
		pattern:     `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,
		replacement: `__MASKED_PRIVATE_KEY__`,
	},
	"certificate": {
		pattern:     `(?s)-----BEGIN CERTIFICATE-----.*?-----END CERTIFICATE-----`,
		replacement: `__MASKED_CERTIFICATE__`,
	},
	"aws_access_key": {
		pattern:     `\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`,
		replacement: `__MASKED_AWS_KEY__`,
	},
	"ssh_key": {
		pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
		replacement: `__MASKED_SSH_KEY__`,
	},
	"certificate_authority_data": {
		pattern:     `(?i)certificate-authority-data:\s*([A-Za-z0-9+/]{20,}={0,2})`,
		replacement: `certificate-authority-data: __MASKED_CA_CERTIFICATE__`,
	},
	"email": {
		pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
		replacement: `__MASKED_EMAIL__`,
	},
}

// builtinGroups map group names to pattern and masker names. Structural
// maskers run before regex patterns.
var builtinGroups = map[string][]string{
	"secrets":    {"api_key", "password", "token", "private_key", "certificate", "aws_access_key", "ssh_key"},
	"kubernetes": {"kubernetes_secret", "certificate_authority_data"},
	"pii":        {"email"},
}
