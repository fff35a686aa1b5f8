package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is a single access right on a file.
type Role uint8

const (
	RoleCreate Role = 1 << iota
	RoleRead
	RoleUpdate
	RoleDelete
)

var roleNames = []struct {
	role Role
	name string
}{
	{RoleCreate, "create"},
	{RoleRead, "read"},
	{RoleUpdate, "update"},
	{RoleDelete, "delete"},
}

func (r Role) String() string {
	for _, rn := range roleNames {
		if rn.role == r {
			return rn.name
		}
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// ParseRole converts a role name into a Role.
func ParseRole(name string) (Role, error) {
	for _, rn := range roleNames {
		if strings.EqualFold(rn.name, name) {
			return rn.role, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", name)
}

// RoleSet is a bitset of roles.
type RoleSet uint8

// AllRoles grants every right; given to the member who uploads a file.
const AllRoles = RoleSet(RoleCreate | RoleRead | RoleUpdate | RoleDelete)

// NewRoleSet builds a set from individual roles.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= RoleSet(r)
	}
	return s
}

// ParseRoleSet parses role names, ignoring case.
func ParseRoleSet(names []string) (RoleSet, error) {
	var s RoleSet
	for _, n := range names {
		r, err := ParseRole(n)
		if err != nil {
			return 0, err
		}
		s |= RoleSet(r)
	}
	return s, nil
}

func (s RoleSet) Has(r Role) bool {
	return s&RoleSet(r) != 0
}

func (s RoleSet) Empty() bool {
	return s&AllRoles == 0
}

// Roles lists the roles in canonical order.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, 4)
	for _, rn := range roleNames {
		if s.Has(rn.role) {
			out = append(out, rn.role)
		}
	}
	return out
}

// Names lists the role names in canonical order.
func (s RoleSet) Names() []string {
	roles := s.Roles()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = r.String()
	}
	return out
}

func (s RoleSet) String() string {
	return "{" + strings.Join(s.Names(), ",") + "}"
}

// MarshalJSON encodes the set as an array of role names.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes an array of role names.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseRoleSet(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RoleGrant is the set of roles a member holds on one file.
//
// At most one grant exists per (MemberID, FileID). An empty Roles set is
// never persisted: stores delete the row instead.
type RoleGrant struct {
	MemberID int64   `json:"member_id"`
	FileID   int64   `json:"file_id"`
	Roles    RoleSet `json:"roles"`
}
