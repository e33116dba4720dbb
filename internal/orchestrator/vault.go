package orchestrator

import (
	"crypto/subtle"
	"regexp"
	"strings"
)

// vaultPattern matches "vault unlock: <name>, key <code>".
var vaultPattern = regexp.MustCompile(`(?i)^vault unlock:\s*(.+?),\s*key\s+(\S+)$`)

// resolveVault handles the vault command form. It is configuration
// convenience rather than an authentication mechanism.
func (o *Orchestrator) resolveVault(text string) (string, bool) {
	m := vaultPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	name := strings.ToLower(strings.TrimSpace(m[1]))
	code := m[2]

	if o.cfg == nil {
		return "That vault doesn't exist.", true
	}
	entry, ok := o.cfg.Persona.Vault[name]
	if !ok {
		return "That vault doesn't exist.", true
	}
	if subtle.ConstantTimeCompare([]byte(entry.Key), []byte(code)) != 1 {
		return "That key doesn't fit.", true
	}
	return entry.Secret, true
}
