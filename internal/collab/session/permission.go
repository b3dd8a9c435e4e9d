package session

import "encoding/json"

// Permission is one bit in a PermissionSet. The set is a bitset over this
// closed enumeration — plain set algebra, not a dynamic policy engine.
type Permission uint8

const (
	PermSendMessages Permission = 1 << iota
	PermStartProposals
	PermVote
	PermInviteOthers
	PermRemoveParticipants
	PermUseTools
)

// PermissionSet is a bitset of Permission flags.
type PermissionSet struct {
	bits Permission
}

func NewPermissionSet(perms ...Permission) PermissionSet {
	var bits Permission
	for _, p := range perms {
		bits |= p
	}
	return PermissionSet{bits: bits}
}

func (s PermissionSet) Has(p Permission) bool {
	return s.bits&p != 0
}

func (s *PermissionSet) Grant(p Permission) {
	s.bits |= p
}

func (s *PermissionSet) Revoke(p Permission) {
	s.bits &^= p
}

// SessionHostPermissions grants every permission.
func SessionHostPermissions() PermissionSet {
	return NewPermissionSet(
		PermSendMessages, PermStartProposals, PermVote,
		PermInviteOthers, PermRemoveParticipants, PermUseTools,
	)
}

// StandardAgentPermissions grants send+vote only.
func StandardAgentPermissions() PermissionSet {
	return NewPermissionSet(PermSendMessages, PermVote)
}

// MarshalJSON/UnmarshalJSON let PermissionSet round-trip through the
// sessions.json snapshot as a plain integer.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(s.bits))
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var v uint8
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.bits = Permission(v)
	return nil
}
