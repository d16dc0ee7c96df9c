package vm

import "strings"

// Perm is the permission bitmask carried by a TLB entry.
type Perm uint8

// Permission bits.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
	PermUser
	PermGlobal
	PermDirty
	PermAccessed
)

// PermRWX is a convenient combination for fully accessible pages.
const PermRWX = PermRead | PermWrite | PermExec

// Has returns true if all the bits in q are set.
func (p Perm) Has(q Perm) bool {
	return p&q == q
}

// Allows checks if an access of the given type, issued at the given privilege,
// may use a translation with this permission.
//
// User requests need the user bit. Supervisors may read and write user pages
// but never execute them.
func (p Perm) Allows(access AccessType, priv Privilege) bool {
	if priv == PrivUser && !p.Has(PermUser) {
		return false
	}

	switch access {
	case AccessRead:
		return p.Has(PermRead)
	case AccessWrite:
		return p.Has(PermWrite)
	case AccessAtomic:
		return p.Has(PermRead | PermWrite)
	case AccessExecute:
		if priv == PrivSupervisor && p.Has(PermUser) {
			return false
		}

		return p.Has(PermExec)
	}

	return false
}

// NeedsUpdate returns true if using the permission for the access requires the
// accessed or the dirty bit to be set first.
func (p Perm) NeedsUpdate(access AccessType) bool {
	if !p.Has(PermAccessed) {
		return true
	}

	return access.IsWrite() && !p.Has(PermDirty)
}

func (p Perm) String() string {
	flags := []struct {
		bit  Perm
		char byte
	}{
		{PermRead, 'r'},
		{PermWrite, 'w'},
		{PermExec, 'x'},
		{PermUser, 'u'},
		{PermGlobal, 'g'},
		{PermAccessed, 'a'},
		{PermDirty, 'd'},
	}

	var sb strings.Builder
	for _, f := range flags {
		if p.Has(f.bit) {
			sb.WriteByte(f.char)
		} else {
			sb.WriteByte('-')
		}
	}

	return sb.String()
}
