package model

import (
	"fmt"
	"strconv"
	"strings"
)

// RecordKey identifies a stored record. Its string form is the credential
// handed to clients.
type RecordKey struct {
	Role Role
	Name string
	ID   int
}

func (k RecordKey) String() string {
	return DeriveKey(k.Role, k.Name, k.ID)
}

// DeriveKey formats role, name and id as "role:name:NNNN". Ids wider than
// four digits widen the field.
func DeriveKey(role Role, name string, id int) string {
	return fmt.Sprintf("%s:%s:%04d", role, name, id)
}

// ParseKey is the inverse of DeriveKey. Only keys DeriveKey could have
// produced are accepted.
func ParseKey(key string) (RecordKey, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return RecordKey{}, MalformedKey(key, fmt.Errorf("expected 3 segments, got %d", len(parts)))
	}

	id, err := strconv.Atoi(parts[2])
	if err != nil {
		return RecordKey{}, MalformedKey(key, err)
	}
	if id < 0 {
		return RecordKey{}, MalformedKey(key, fmt.Errorf("negative id %d", id))
	}

	parsed := RecordKey{Role: Role(parts[0]), Name: parts[1], ID: id}
	if !parsed.Role.Valid() {
		return RecordKey{}, MalformedKey(key, fmt.Errorf("unknown role %q", parts[0]))
	}
	if parsed.Name == "" {
		return RecordKey{}, MalformedKey(key, fmt.Errorf("empty name"))
	}
	if parsed.String() != key {
		return RecordKey{}, MalformedKey(key, fmt.Errorf("not in canonical form"))
	}
	return parsed, nil
}

// ValidateName rejects names that cannot appear inside a key.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return Unprocessable("user_name", "user name is required")
	}
	if strings.Contains(name, ":") {
		return Unprocessable("user_name", "user name must not contain ':'")
	}
	return nil
}
