// Package compat decides whether two participants are mutually willing to
// talk to each other, based on their profiles and search preferences. The
// check is pure and symmetric: it reads two snapshots and returns a boolean,
// with no store access.
package compat

// Any is the wildcard filter value: no constraint on the attribute.
const Any = "any"

// Gender values stored in participant profiles.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// Profile is a participant's own attributes, as the other side's filters see
// them. A nil *Profile means the participant never filled their profile in.
type Profile struct {
	Gender  string
	Country string
}

// Preferences are a participant's search filters. The zero value (empty
// strings) is treated the same as explicit Any/Any.
type Preferences struct {
	GenderFilter  string
	CountryFilter string
}

// DefaultPreferences returns the permissive Any/Any filter set used for
// participants who never configured a search filter.
func DefaultPreferences() Preferences {
	return Preferences{GenderFilter: Any, CountryFilter: Any}
}

// Compatible reports whether a and b mutually accept each other: each side's
// non-wildcard filter must equal the other side's profile attribute, in both
// directions. A missing profile on either side passes every filter — legacy
// participants without profiles must keep matching everyone.
func Compatible(profileA *Profile, prefA Preferences, profileB *Profile, prefB Preferences) bool {
	return accepts(prefA, profileB) && accepts(prefB, profileA)
}

// accepts checks one direction: does the filter owner accept a partner with
// the given profile.
func accepts(pref Preferences, partner *Profile) bool {
	if partner == nil {
		return true
	}
	if !filterMatches(pref.GenderFilter, partner.Gender) {
		return false
	}
	return filterMatches(pref.CountryFilter, partner.Country)
}

func filterMatches(filter, attribute string) bool {
	if filter == "" || filter == Any {
		return true
	}
	// An unset attribute on the partner side also passes: the permissive
	// default cuts both ways.
	if attribute == "" {
		return true
	}
	return filter == attribute
}
