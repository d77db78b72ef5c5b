// Package domain contains core domain types for the query gateway.
package domain

import "strconv"

// Identity is the authenticated caller carried by a session token.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// IsZero reports whether the identity carries no user.
func (i Identity) IsZero() bool {
	return i.ID == 0 && i.Username == ""
}

// String returns a stable label used in logs.
func (i Identity) String() string {
	if i.Username == "" {
		return strconv.FormatInt(i.ID, 10)
	}
	return i.Username + "#" + strconv.FormatInt(i.ID, 10)
}
