package acl

import (
	"strconv"
	"time"
)

// Permission is the effect of a compiled grant
type Permission string

const (
	PermissionAllow Permission = "allow"
	PermissionDeny  Permission = "deny"
)

// Action is the broker operation a grant applies to
type Action string

const (
	ActionPublish   Action = "publish"
	ActionSubscribe Action = "subscribe"
	ActionAll       Action = "all"
)

// DefaultSortOrder is used when a rule does not declare a sort order
const DefaultSortOrder = 100

// Rule is a role-level declarative template. A single rule produces zero or
// more compiled entries depending on the user's resource bindings.
type Rule struct {
	Permission    Permission `json:"permission"`
	Action        Action     `json:"action"`
	TopicTemplate string     `json:"topic_template"`
	SortOrder     *int       `json:"sort_order,omitempty"`
}

// Order returns the effective sort order (lower sorts first)
func (r Rule) Order() int {
	if r.SortOrder == nil {
		return DefaultSortOrder
	}
	return *r.SortOrder
}

// Entry is a single compiled grant. The slice order of compiled entries is
// the broker's evaluation order and must be preserved through signing and
// transport.
type Entry struct {
	Permission Permission `json:"permission"`
	Action     Action     `json:"action"`
	Topic      string     `json:"topic"`
}

// DenyAll is the terminal safety-net entry every compiled list ends with
func DenyAll() Entry {
	return Entry{Permission: PermissionDeny, Action: ActionAll, Topic: "#"}
}

// ResourceBinding is the concrete attribute set a user owns. Only farm_id,
// turbine_id and tag are eligible as placeholder substitutions; anything
// else on the stored document is dropped at decode time.
type ResourceBinding struct {
	Kind      string  `json:"kind"`
	FarmID    *int64  `json:"farm_id,omitempty"`
	TurbineID *int64  `json:"turbine_id,omitempty"`
	Tag       *string `json:"tag,omitempty"`
}

// Attributes returns the binding's present attributes keyed by placeholder
// name, with integer ids rendered in decimal.
func (b ResourceBinding) Attributes() map[string]string {
	attrs := make(map[string]string, 3)
	if b.FarmID != nil {
		attrs["farm_id"] = strconv.FormatInt(*b.FarmID, 10)
	}
	if b.TurbineID != nil {
		attrs["turbine_id"] = strconv.FormatInt(*b.TurbineID, 10)
	}
	if b.Tag != nil {
		attrs["tag"] = *b.Tag
	}
	return attrs
}

// Role groups an ordered rule set under a unique name. Rules are stored in
// declaration order and sorted at compile time, not at storage time.
type Role struct {
	Name      string    `json:"name"`
	Rules     []Rule    `json:"rules"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a credential record. Roles keep the order given at creation and
// may repeat; duplicate grants are collapsed by the compiler's final dedup
// pass, not here.
type User struct {
	Username     string            `json:"username"`
	PasswordHash string            `json:"-"`
	Roles        []string          `json:"roles"`
	Resources    []ResourceBinding `json:"resources"`
	TTLSeconds   int64             `json:"ttl_seconds"`
	CreatedAt    time.Time         `json:"created_at"`
}
