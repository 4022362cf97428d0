// Package security redacts credentials from outbound logs and vets free text
package security

import (
	"regexp"
)

type SecretMatch struct {
	Type     string
	Start    int
	End      int
	Redacted string
}

// SecretScanner finds credentials that may end up in log messages or fields
type SecretScanner struct {
	patterns []*secretPattern
}

type secretPattern struct {
	name       string
	regex      *regexp.Regexp
	redactWith string
}

// Ordered so that specific token shapes are replaced before the generic key=value rule.
var defaultSecretPatterns = []struct {
	name       string
	pattern    string
	redactWith string
}{
	{"Bearer Token", `(?i)bearer\s+[a-z0-9\-_.~+/]{16,}=*`, "Bearer ****"},
	{"JWT", `eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`, "eyJ****"},
	{"OAuth Token Field", `(?i)"(access_token|refresh_token|id_token)"\s*:\s*"[^"]+"`, `"$1":"****"`},
	{"Bcrypt Hash", `\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53}`, "BCRYPT_HASH****"},
	{"Telegram Bot Token", `[0-9]{8,10}:[a-zA-Z0-9_-]{35}`, "****:****"},
	{"Discord Token", `[MN][a-zA-Z\d]{23}\.[\w-]{6}\.[\w-]{27}`, "DISCORD_TOKEN****"},
	{"Credential URL", `(?i)(redis|rediss|mqtt|mqtts|tcp|ssl|wss|https?)://[^\s'"/:@]*:[^\s'"@]+@[^\s'"]+`, "$1://****@****"},
	{"Private Key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`, "PRIVATE_KEY****"},
	{"Generic Secret", `(?i)(secret|password|passwd|client_secret|auth_token|token)(['"]?\s*[:=]\s*['"]?)[^\s'",}]{8,}`, "$1$2****"},
}

func NewSecretScanner() *SecretScanner {
	scanner := &SecretScanner{
		patterns: make([]*secretPattern, 0, len(defaultSecretPatterns)),
	}

	for _, p := range defaultSecretPatterns {
		scanner.patterns = append(scanner.patterns, &secretPattern{
			name:       p.name,
			regex:      regexp.MustCompile(p.pattern),
			redactWith: p.redactWith,
		})
	}

	return scanner
}

func (s *SecretScanner) Scan(input string) []SecretMatch {
	var matches []SecretMatch

	for _, pattern := range s.patterns {
		locs := pattern.regex.FindAllStringIndex(input, -1)
		for _, loc := range locs {
			matches = append(matches, SecretMatch{
				Type:     pattern.name,
				Start:    loc[0],
				End:      loc[1],
				Redacted: pattern.redactWith,
			})
		}
	}

	return matches
}

func (s *SecretScanner) HasSecrets(input string) bool {
	for _, pattern := range s.patterns {
		if pattern.regex.MatchString(input) {
			return true
		}
	}
	return false
}

// Redact replaces every match. Replacements may reference capture groups.
func (s *SecretScanner) Redact(input string) string {
	result := input

	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllString(result, pattern.redactWith)
	}

	return result
}

func RedactSecrets(input string) string {
	return NewSecretScanner().Redact(input)
}
