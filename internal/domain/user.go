// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrInvalidUserID = errors.New("invalid user id")

// UserID is the integer identity issued by the account store.
type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseUserID accepts the shapes a session backend may hand back for a stored id.
func ParseUserID(v any) (UserID, error) {
	var n int64
	switch t := v.(type) {
	case int64:
		n = t
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case uint64:
		n = int64(t)
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidUserID, t)
		}
		n = int64(t)
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidUserID, t)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidUserID, v)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidUserID, n)
	}
	return UserID(n), nil
}
