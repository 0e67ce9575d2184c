package secrets

// DefaultRules returns the default set of secret detection rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "dashscope-api-key",
			Description: "DashScope API Key",
			Pattern:     `\bsk-[A-Za-z0-9]{16,}`,
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{8,}`,
		},
		{
			ID:          "api-key-assignment",
			Description: "API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords:    []string{"key"},
		},
		{
			ID:          "env-credential",
			Description: "Environment variable holding a credential",
			Pattern:     `(?i)(?:DASHSCOPE_API_KEY|API_SECRET|SECRET_KEY|AUTH_TOKEN|ACCESS_TOKEN|PASSWORD)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
		},
		{
			ID:          "private-key",
			Description: "Private key header",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY-----`,
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`,
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `\b(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}\b`,
		},
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
		},
	}
}
