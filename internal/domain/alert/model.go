package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ID identifies a conversation, message or sender. Upstream chat APIs hand
// these out as either strings or integers, so ID accepts both on decode and
// always encodes as a string.
type ID string

// UnmarshalJSON accepts a JSON string or a JSON number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding id: %w", err)
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID(canonicalNumber(n))
	return nil
}

// maxExactFloat is the largest magnitude below which every integer is
// exactly representable as a float64.
const maxExactFloat = 1 << 53

// canonicalNumber spells integral numbers the same way however they were
// written, so 42, 42.0 and 4.2e1 name the same conversation.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < maxExactFloat {
		return strconv.FormatInt(int64(f), 10)
	}
	return n.String()
}

// ConversationID identifies a chat thread.
type ConversationID = ID

// Message is one entry of a conversation snapshot. It is never mutated here.
type Message struct {
	ID       ID     `json:"id"`
	SenderID ID     `json:"sender_id"`
	Body     string `json:"body"`
}

// Role is the viewer's role tag as asserted by the calling backend.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	RoleUser       Role = "user"
)

// Viewer is the person looking at the dashboard in a given session.
type Viewer struct {
	ID   ID   `json:"id"`
	Role Role `json:"role"`
}

// Permission mirrors the host's notification permission state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// IsValid reports whether p is one of the three known states.
func (p Permission) IsValid() bool {
	switch p {
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return true
	}
	return false
}

// Policy holds the throttle's tunables.
type Policy struct {
	// Cooldown is the minimum time between two alerts for one conversation.
	Cooldown time.Duration

	// DismissAfter is how long a shown alert stays up before it is closed.
	DismissAfter time.Duration

	// Icon is passed through to the host with every alert.
	Icon string

	// EligibleRoles are the roles allowed to receive cross-user alerts.
	EligibleRoles []Role
}

// DefaultPolicy returns the production throttle settings.
func DefaultPolicy() Policy {
	return Policy{
		Cooldown:      10 * time.Minute,
		DismissAfter:  5 * time.Second,
		Icon:          "/favicon.ico",
		EligibleRoles: []Role{RoleAdmin, RoleSuperAdmin},
	}
}

// Eligible reports whether role may receive alerts under this policy.
func (p Policy) Eligible(role Role) bool {
	for _, r := range p.EligibleRoles {
		if r == role {
			return true
		}
	}
	return false
}
