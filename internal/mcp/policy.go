package mcp

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/weblist/internal/listing"
)

// Policy limits what an MCP client may reach.
type Policy struct {
	Version int `yaml:"version"`
	// Role is the listing role the client acts as. Default "user".
	Role string `yaml:"role"`
	// DefaultAction applies to paths matching neither list.
	DefaultAction string   `yaml:"default_action"`
	DeniedPaths   []string `yaml:"denied_paths"`
	AllowedPaths  []string `yaml:"allowed_paths"`
	// AllowShare enables files_share.
	AllowShare bool `yaml:"allow_share"`
	// AllowCredentials enables credential_list and credential_get_masked.
	AllowCredentials bool `yaml:"allow_credentials"`
	// RateLimit caps tool calls per second; 0 disables the limit.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// PolicyFileName is the name of the policy file in the weblist home.
const PolicyFileName = "mcp-policy.yaml"

// Tool call limits of the default policy.
const (
	DefaultRateLimit = 10
	DefaultBurst     = 20
)

// Policy action constants
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// ErrPolicyNotFound is returned when no policy file exists
var ErrPolicyNotFound = errors.New("MCP policy file not found")

// ErrPolicyInsecure is returned when policy file has insecure permissions
var ErrPolicyInsecure = errors.New("MCP policy file has insecure permissions")

// ErrPolicySymlink is returned when policy file is a symlink
var ErrPolicySymlink = errors.New("MCP policy file is a symlink")

// ErrPolicyNotOwnedByUser is returned when policy file is not owned by current user
var ErrPolicyNotOwnedByUser = errors.New("MCP policy file not owned by current user")

// DefaultPolicy is used when no policy file exists: read-only, every
// path except the protected ones, no shares, no credentials.
func DefaultPolicy() *Policy {
	return &Policy{
		Version:       1,
		Role:          string(listing.RoleUser),
		DefaultAction: ActionAllow,
		RateLimit:     DefaultRateLimit,
		Burst:         DefaultBurst,
	}
}

// LoadPolicy loads the policy from the weblist home. The file must be a
// regular file with mode 0600 owned by the current user.
func LoadPolicy(home string) (*Policy, error) {
	f, err := openPolicyFile(filepath.Join(home, PolicyFileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// fstat the open descriptor so the checks apply to what is read.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrPolicyInsecure, perm)
	}
	if err := checkOwner(f); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(content)
}

// ParsePolicy decodes and validates a policy document.
func ParsePolicy(content []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if p.DefaultAction == "" {
		p.DefaultAction = ActionDeny
	}
	if p.Role == "" {
		p.Role = string(listing.RoleUser)
	}
	if p.RateLimit > 0 && p.Burst == 0 {
		p.Burst = max(1, int(p.RateLimit))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate validates the policy configuration
func (p *Policy) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported policy version: %d", p.Version)
	}
	if p.DefaultAction != ActionDeny && p.DefaultAction != ActionAllow {
		return fmt.Errorf("invalid default_action: %s (must be '%s' or '%s')", p.DefaultAction, ActionDeny, ActionAllow)
	}
	switch listing.Role(p.Role) {
	case listing.RoleAdmin, listing.RoleUser:
	default:
		return fmt.Errorf("invalid role: %s", p.Role)
	}
	if p.RateLimit < 0 {
		return fmt.Errorf("invalid rate_limit: %v (must not be negative)", p.RateLimit)
	}
	if p.RateLimit > 0 && p.Burst < 1 {
		return fmt.Errorf("invalid burst: %d (must be at least 1)", p.Burst)
	}
	return nil
}

// IsPathAllowed checks a clean absolute path in this order:
// denied_paths, then allowed_paths, then default_action. Entries match
// the path itself and everything below it.
func (p *Policy) IsPathAllowed(path string) (allowed bool, reason string) {
	for _, denied := range p.DeniedPaths {
		if matchPath(path, denied) {
			return false, fmt.Sprintf("path '%s' matches denied path '%s'", path, denied)
		}
	}
	for _, allowed := range p.AllowedPaths {
		if matchPath(path, allowed) {
			return true, ""
		}
	}
	if p.DefaultAction == ActionAllow {
		return true, ""
	}
	return false, fmt.Sprintf("path '%s' not in allowed_paths list", path)
}

func matchPath(path, prefix string) bool {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
