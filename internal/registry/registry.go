// Package registry holds the startup-loaded, immutable api_key -> Limits mapping.
// The real credential database is out of scope; this models it as a small built-in
// table, with a fallback default used only when a caller explicitly asks for it
// (the Admission Handler itself rejects unknown keys with 401 before ever
// consulting the default).
package registry

// Limits are the three independent per-minute quotas for one API key.
type Limits struct {
	RPM       int
	InputTPM  int
	OutputTPM int
}

// Registry is a read-only lookup table built once at startup. It requires no
// locking because nothing mutates it after New returns.
type Registry struct {
	limits   map[string]Limits
	fallback Limits
}

// DefaultLimits is the quota applied to a key with no explicit entry.
var DefaultLimits = Limits{RPM: 100, InputTPM: 100000, OutputTPM: 100000}

// builtinKeys is the built-in api_key -> Limits fixture table.
var builtinKeys = map[string]Limits{
	"test-key-1": {RPM: 10000, InputTPM: 1000, OutputTPM: 1000},
	"test-key-2": {RPM: 2000, InputTPM: 10000, OutputTPM: 10000},
	"test-key-3": {RPM: 5000, InputTPM: 10000, OutputTPM: 10000},
}

// New builds a Registry from the built-in table, plus any operator-supplied
// overrides (e.g. loaded from a config file in a fuller deployment).
func New(overrides map[string]Limits) *Registry {
	limits := make(map[string]Limits, len(builtinKeys)+len(overrides))
	for k, v := range builtinKeys {
		limits[k] = v
	}
	for k, v := range overrides {
		limits[k] = v
	}
	return &Registry{limits: limits, fallback: DefaultLimits}
}

// Lookup returns the Limits for an API key and whether it is known. The Admission
// Handler MUST treat ok=false as an authentication failure (401), not as "use the
// default" — the default is only reachable via LookupOrDefault.
func (r *Registry) Lookup(apiKey string) (Limits, bool) {
	l, ok := r.limits[apiKey]
	return l, ok
}

// LookupOrDefault returns the key's Limits, or the registry's fallback default if
// the key is not present. Exists for callers that have already authenticated the
// key through some other means and only want a sane quota.
func (r *Registry) LookupOrDefault(apiKey string) Limits {
	if l, ok := r.limits[apiKey]; ok {
		return l
	}
	return r.fallback
}
