package models

import "maps"

// Effect is one entry in a clip's effect list. Path addresses either a built-in
// effect ("builtin:<name>") or a dynamically loadable plug-in.
type Effect struct {
	Name    string       `json:"name"`
	Path    string       `json:"path"`
	Enabled bool         `json:"enabled"`
	Params  EffectParams `json:"params,omitempty"`
}

// EffectParams holds the parameter payloads the engine knows about, plus an
// opaque dictionary handed to plug-ins verbatim.
type EffectParams struct {
	Amount *float64       `json:"amount,omitempty"`
	Plugin map[string]any `json:"plugin,omitempty"`
}

// IsZero lets encoders omit empty parameter sets
func (p EffectParams) IsZero() bool {
	return p.Amount == nil && len(p.Plugin) == 0
}

// ToMap flattens the typed and opaque params into the dictionary passed to effects
func (p EffectParams) ToMap() map[string]any {
	out := make(map[string]any, len(p.Plugin)+1)
	maps.Copy(out, p.Plugin)
	if p.Amount != nil {
		out["amount"] = *p.Amount
	}
	return out
}

// Clone returns a deep copy
func (e Effect) Clone() Effect {
	out := e
	if e.Params.Amount != nil {
		v := *e.Params.Amount
		out.Params.Amount = &v
	}
	if e.Params.Plugin != nil {
		out.Params.Plugin = maps.Clone(e.Params.Plugin)
	}
	return out
}
