package source

import (
	"os"
	"strings"

	"github.com/jafechang/atlas/internal/secrets"
)

// uaEnvPrefix namespaces the environment variables read into the UA vault,
// e.g. ATLAS_UA_ATLAS_DEFAULT maps to alias "atlas-default".
const uaEnvPrefix = "ATLAS_UA_"

// UARegistry resolves a SourceConfig.UserAgent value — either a registered
// alias or a literal string — to the header value a collector should send.
// It is a thin repurposing of secrets.Vault: the same "in-memory map with
// atomic env-sourced reload" shape fits UA aliases as well as secrets.
type UARegistry struct {
	vault *secrets.Vault
}

// NewUARegistry builds a UARegistry from environment variables prefixed
// ATLAS_UA_, plus a built-in "atlas-default" alias so sources.yaml works
// out of the box with no aliases configured.
func NewUARegistry() (*UARegistry, error) {
	v, err := secrets.NewVault(loadUAEnv)
	if err != nil {
		return nil, err
	}
	return &UARegistry{vault: v}, nil
}

func loadUAEnv() (map[string]string, error) {
	out := map[string]string{
		"atlas-default": "Mozilla/5.0 (compatible; AtlasBot/1.0; +https://example.invalid/bot)",
		"atlas-polite":  "AtlasBot/1.0 (polite crawler; contact: ops@example.invalid)",
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, uaEnvPrefix) {
			continue
		}
		alias := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(k, uaEnvPrefix), "_", "-"))
		out[alias] = v
	}
	return out, nil
}

// Resolve returns the literal user-agent string for a SourceConfig.UserAgent
// value. If it matches a registered alias, the alias's value is returned;
// otherwise the input is treated as a literal UA string and returned as-is.
// An empty input resolves to the "atlas-default" alias.
func (r *UARegistry) Resolve(userAgent string) string {
	if userAgent == "" {
		userAgent = "atlas-default"
	}
	if v := r.vault.Get(userAgent); v != "" {
		return v
	}
	return userAgent
}

// Reload re-reads ATLAS_UA_* environment variables.
func (r *UARegistry) Reload() error {
	return r.vault.Reload()
}
