package zendesk

import (
	"encoding/json"
	"fmt"
)

// User is one user object from /api/v2/users.json. Only the fields the
// report needs are decoded; every other key lands in Extras untouched.
type User struct {
	Name        string
	Email       string
	LastLoginAt *string // nil when the API sends null or omits the key
	Role        string
	RoleType    *int // nil when the API sends null
	Extras      map[string]json.RawMessage
}

func (u *User) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	fields := []struct {
		key string
		dst any
	}{
		{"name", &u.Name},
		{"email", &u.Email},
		{"last_login_at", &u.LastLoginAt},
		{"role", &u.Role},
		{"role_type", &u.RoleType},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("user field %q: %w", f.key, err)
		}
		delete(raw, f.key)
	}

	u.Extras = raw
	return nil
}

// usersPage is one page of the users listing.
type usersPage struct {
	Users    []User  `json:"users"`
	NextPage *string `json:"next_page"`
	Count    int     `json:"count"`
}
