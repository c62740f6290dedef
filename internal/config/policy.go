package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.yaml.in/yaml/v3"
)

// Policy holds admin-configured resolution gates: version ranges that
// must never be offered and, optionally, a publisher allow-list.
type Policy struct {
	// ExcludedVersions maps extension id to semver range expressions.
	ExcludedVersions map[string][]string `yaml:"excluded_versions"`

	// AllowedPublishers, when non-empty, restricts compatible resolution
	// to these publishers.
	AllowedPublishers []string `yaml:"allowed_publishers"`

	compiled map[string][]*semver.Constraints
}

// NewPolicy builds a policy from in-memory values.
func NewPolicy(excludedVersions map[string][]string, allowedPublishers []string) (*Policy, error) {
	p := &Policy{
		ExcludedVersions:  excludedVersions,
		AllowedPublishers: allowedPublishers,
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPolicy reads the policy file. A missing file yields an empty
// policy, not an error.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Policy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) compile() error {
	p.compiled = make(map[string][]*semver.Constraints, len(p.ExcludedVersions))
	for id, ranges := range p.ExcludedVersions {
		for _, r := range ranges {
			c, err := semver.NewConstraint(r)
			if err != nil {
				return fmt.Errorf("policy range %q for %s: %w", r, id, err)
			}
			p.compiled[strings.ToLower(id)] = append(p.compiled[strings.ToLower(id)], c)
		}
	}
	return nil
}

// Excluded reports whether the given extension version falls in an
// excluded range. Unparseable versions are never excluded.
func (p *Policy) Excluded(id, version string) bool {
	constraints := p.compiled[strings.ToLower(id)]
	if len(constraints) == 0 {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	for _, c := range constraints {
		if c.Check(v) {
			return true
		}
	}
	return false
}

// PublisherAllowed reports whether the publisher passes the allow-list.
// An empty allow-list allows everyone.
func (p *Policy) PublisherAllowed(publisher string) bool {
	if len(p.AllowedPublishers) == 0 {
		return true
	}
	for _, a := range p.AllowedPublishers {
		if strings.EqualFold(a, publisher) {
			return true
		}
	}
	return false
}
