// Package profile loads declarative per-platform capture descriptions:
// which API endpoints expose a conversation's canonical data, and optional
// stabilization tuning. Documents are YAML validated against an embedded CUE
// schema, so malformed profiles fail at load with a field path instead of
// misbehaving at capture time.
package profile

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/ragaeeb/blackiya-sub001/internal/stabilize"
)

//go:embed schema.cue
var schemaCUE string

const conversationPlaceholder = "{conversation_id}"

// Overrides tunes the stabilization constants for one platform.
type Overrides struct {
	RetryDelayMs int `yaml:"retry_delay_ms"`
	MaxRetries   int `yaml:"max_retries"`
	GraceMs      int `yaml:"grace_ms"`
}

// Profile describes how to capture one platform.
type Profile struct {
	Platform      string     `yaml:"platform"`
	URLTemplates  []string   `yaml:"url_templates"`
	Stabilization *Overrides `yaml:"stabilization"`
}

// CandidateURLs expands the URL templates for a conversation, in declared
// order. The order is the fallback order: the probe walks candidates first
// to last.
func (p *Profile) CandidateURLs(conversationID string) []string {
	out := make([]string, len(p.URLTemplates))
	for i, tmpl := range p.URLTemplates {
		out[i] = strings.ReplaceAll(tmpl, conversationPlaceholder, conversationID)
	}
	return out
}

// Policy applies the profile's overrides on top of a base policy.
func (p *Profile) Policy(base stabilize.Policy) stabilize.Policy {
	if p.Stabilization == nil {
		return base
	}
	o := p.Stabilization
	if o.RetryDelayMs > 0 {
		base.RetryDelay = time.Duration(o.RetryDelayMs) * time.Millisecond
	}
	if o.MaxRetries > 0 {
		base.MaxRetries = o.MaxRetries
	}
	if o.GraceMs > 0 {
		base.Grace = time.Duration(o.GraceMs) * time.Millisecond
	}
	return base
}

// Load parses and validates a YAML profile document.
func Load(data []byte) (*Profile, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profile yaml: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// LoadFile reads and validates a profile from disk.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	p, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// validate unifies the decoded document with the embedded CUE schema.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
func validate(raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile profile schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Profile"))
	if !def.Exists() {
		return fmt.Errorf("profile schema missing #Profile definition")
	}

	unified := def.Unify(ctx.Encode(raw))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid profile: %s", cueerrors.Details(err, nil))
	}
	return nil
}
