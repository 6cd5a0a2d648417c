package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidField is returned when a known user field carries a value of the wrong type.
var ErrInvalidField = errors.New("invalid field")

// Reserved keys are owned by the system and never taken from client input.
const (
	FieldID        = "id"
	FieldName      = "name"
	FieldEmail     = "email"
	FieldPassword  = "password"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// User represents a managed user record.
//
// Attributes holds any extra fields submitted through the generic create and
// update endpoints. They are stored at the top level of the JSON record.
type User struct {
	ID         int64
	Name       string
	Email      string
	Password   string
	Attributes map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Apply shallow-merges fields into the user. Only keys present in fields are
// touched. Reserved timestamp and id keys are ignored.
func (u *User) Apply(fields map[string]any) error {
	for key, value := range fields {
		switch key {
		case FieldID, FieldCreatedAt, FieldUpdatedAt:
			continue
		case FieldName, FieldEmail, FieldPassword:
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: %s must be a string", ErrInvalidField, key)
			}
			switch key {
			case FieldName:
				u.Name = s
			case FieldEmail:
				u.Email = s
			default:
				u.Password = s
			}
		default:
			if u.Attributes == nil {
				u.Attributes = make(map[string]any)
			}
			u.Attributes[key] = value
		}
	}
	return nil
}

// Clone returns a deep enough copy for callers to mutate independently.
func (u User) Clone() User {
	if u.Attributes != nil {
		attrs := make(map[string]any, len(u.Attributes))
		for k, v := range u.Attributes {
			attrs[k] = v
		}
		u.Attributes = attrs
	}
	return u
}

// Fields flattens the user into a single map. The password hash is included
// only when withPassword is set.
func (u User) Fields(withPassword bool) map[string]any {
	out := make(map[string]any, len(u.Attributes)+6)
	for k, v := range u.Attributes {
		out[k] = v
	}
	out[FieldID] = u.ID
	out[FieldName] = u.Name
	out[FieldEmail] = u.Email
	if withPassword && u.Password != "" {
		out[FieldPassword] = u.Password
	}
	if !u.CreatedAt.IsZero() {
		out[FieldCreatedAt] = u.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !u.UpdatedAt.IsZero() {
		out[FieldUpdatedAt] = u.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// MarshalJSON encodes the full stored record, password hash included.
func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Fields(true))
}

func (u *User) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("decode user: expected an object, got %s", data)
	}

	var out User
	for key, value := range raw {
		var err error
		switch key {
		case FieldID:
			err = json.Unmarshal(value, &out.ID)
		case FieldName:
			err = json.Unmarshal(value, &out.Name)
		case FieldEmail:
			err = json.Unmarshal(value, &out.Email)
		case FieldPassword:
			err = json.Unmarshal(value, &out.Password)
		case FieldCreatedAt:
			err = json.Unmarshal(value, &out.CreatedAt)
		case FieldUpdatedAt:
			err = json.Unmarshal(value, &out.UpdatedAt)
		default:
			var v any
			if err = json.Unmarshal(value, &v); err == nil {
				if out.Attributes == nil {
					out.Attributes = make(map[string]any)
				}
				out.Attributes[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("decode user field %s: %w", key, err)
		}
	}

	*u = out
	return nil
}
