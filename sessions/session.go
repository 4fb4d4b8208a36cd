package sessions

import (
	"maps"
	"strconv"
)

// Session is the plaintext form of a stored privacy session.
type Session struct {
	PrivateAddress  string            `json:"privateAddress"`
	SeedMaterial    string            `json:"seedMaterial"`
	PositionSecrets map[string]string `json:"positionSecrets"`
	UpdatedAt       int64             `json:"updatedAt"`
}

// Valid reports whether the required fields are present.
func (s *Session) Valid() bool {
	return s != nil && s.PrivateAddress != "" && s.SeedMaterial != ""
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.PositionSecrets = maps.Clone(s.PositionSecrets)
	if out.PositionSecrets == nil {
		out.PositionSecrets = map[string]string{}
	}
	return &out
}

// Secret returns the stored secret hex for position id.
func (s *Session) Secret(id uint64) (string, bool) {
	v, ok := s.PositionSecrets[strconv.FormatUint(id, 10)]
	return v, ok
}
