package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakTokenScoreThreshold = 3

// IsWeakAdminToken reports whether the admin token is weak enough to warn
// about at startup. An empty token disables auth entirely and is never
// scored; a weak token is logged, not rejected, so existing deployments
// keep working.
func IsWeakAdminToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < weakTokenScoreThreshold
}
