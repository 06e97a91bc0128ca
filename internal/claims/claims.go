// Package claims implements the permission model that gates tool
// invocations: a claim grants a tool name plus a parameter-matching
// strategy, and a manager answers whether a given call is permitted.
//
// Matching rules are ported from the original claims.rs one-to-one:
// Exact requires whole-value equality, Partial requires every pattern key
// to match while ignoring extra call keys, and Glob treats every string
// leaf in the pattern as a regular expression matched against the
// corresponding call leaf (non-string leaves must match literally; an
// invalid pattern is a match failure, not a compile error).
package claims

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"time"
)

// MatchStrategy selects how a Claim's Pattern is compared against a call's
// arguments.
type MatchStrategy string

const (
	MatchExact   MatchStrategy = "exact"
	MatchPartial MatchStrategy = "partial"
	MatchGlob    MatchStrategy = "glob"
)

// Claim grants permission to invoke ToolName when its arguments satisfy
// Pattern under Strategy.
type Claim struct {
	ToolName    string          `json:"tool_name"`
	Strategy    MatchStrategy   `json:"match_strategy"`
	Pattern     json.RawMessage `json:"pattern"`
	GrantedAt   time.Time       `json:"granted_at"`
	SessionOnly bool            `json:"session_only"`
	Description string          `json:"description,omitempty"`
}

// Matches reports whether args (the tool call's JSON arguments) satisfies
// this claim.
func (c Claim) Matches(toolName string, args json.RawMessage) bool {
	if c.ToolName != toolName {
		return false
	}

	var pattern, call any
	if err := json.Unmarshal(c.Pattern, &pattern); err != nil {
		return false
	}
	if err := json.Unmarshal(args, &call); err != nil {
		return false
	}

	switch c.Strategy {
	case MatchExact:
		return reflect.DeepEqual(pattern, call)
	case MatchPartial:
		return matchPartial(pattern, call)
	case MatchGlob:
		return matchGlob(pattern, call)
	default:
		return false
	}
}

// matchPartial requires every key present in pattern to exist in call with
// an equal value; extra keys in call are ignored. Pattern and call must
// both be JSON objects, else this is a match failure unless they are
// directly equal (scalar claim pattern matching a scalar call shape).
func matchPartial(pattern, call any) bool {
	patMap, patIsMap := pattern.(map[string]any)
	callMap, callIsMap := call.(map[string]any)
	if !patIsMap || !callIsMap {
		return reflect.DeepEqual(pattern, call)
	}
	for k, pv := range patMap {
		cv, ok := callMap[k]
		if !ok {
			return false
		}
		if pvMap, isMap := pv.(map[string]any); isMap {
			if !matchPartial(pvMap, cv) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(pv, cv) {
			return false
		}
	}
	return true
}

// matchGlob walks pattern and call in lockstep. Every string leaf in
// pattern is compiled as a regular expression and must fully match the
// corresponding call leaf (also required to be a string); every non-string
// leaf must match call's leaf literally. An invalid regex, a missing key,
// or a type mismatch are all match failures, never errors.
func matchGlob(pattern, call any) bool {
	switch p := pattern.(type) {
	case map[string]any:
		c, ok := call.(map[string]any)
		if !ok {
			return false
		}
		for k, pv := range p {
			cv, ok := c[k]
			if !ok {
				return false
			}
			if !matchGlob(pv, cv) {
				return false
			}
		}
		return true
	case string:
		cs, ok := call.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return false
		}
		return re.MatchString(cs)
	default:
		return reflect.DeepEqual(pattern, call)
	}
}

// Manager holds a set of claims plus a sudo-mode bypass flag. It is safe
// for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	claims   []Claim
	sudoMode bool
}

// NewManager returns an empty claim manager.
func NewManager() *Manager {
	return &Manager{}
}

// Grant adds a claim to the manager.
func (m *Manager) Grant(c Claim) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.GrantedAt.IsZero() {
		c.GrantedAt = time.Now()
	}
	m.claims = append(m.claims, c)
}

// SetSudo toggles the bypass that permits every call regardless of claims.
func (m *Manager) SetSudo(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sudoMode = on
}

// IsPermitted reports whether toolName may be invoked with args: true when
// sudo mode is on, or when some granted claim matches.
func (m *Manager) IsPermitted(toolName string, args json.RawMessage) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sudoMode {
		return true
	}
	for _, c := range m.claims {
		if c.Matches(toolName, args) {
			return true
		}
	}
	return false
}

// ClearSessionClaims drops every claim marked SessionOnly, called on a
// session-end signal.
func (m *Manager) ClearSessionClaims() {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.claims[:0]
	for _, c := range m.claims {
		if !c.SessionOnly {
			kept = append(kept, c)
		}
	}
	m.claims = kept
}

// Persistent returns the subset of claims that survive session end,
// suitable for serializing to a file.
func (m *Manager) Persistent() []Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Claim
	for _, c := range m.claims {
		if !c.SessionOnly {
			out = append(out, c)
		}
	}
	return out
}

// MarshalPersistent serializes the persistent claim set to JSON.
func (m *Manager) MarshalPersistent() ([]byte, error) {
	claims := m.Persistent()
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("marshal claims: %w", err)
	}
	return b, nil
}

// LoadPersistent replaces the manager's persistent claims with those
// decoded from data, leaving session-only claims untouched.
func (m *Manager) LoadPersistent(data []byte) error {
	var claims []Claim
	if err := json.Unmarshal(data, &claims); err != nil {
		return fmt.Errorf("unmarshal claims: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessionOnly []Claim
	for _, c := range m.claims {
		if c.SessionOnly {
			sessionOnly = append(sessionOnly, c)
		}
	}
	m.claims = append(sessionOnly, claims...)
	return nil
}
