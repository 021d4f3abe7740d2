package chat

import (
	"strings"

	"golang.org/x/text/cases"
)

// Filter decides whether a message is archived.
//
// Usernames are matched case-insensitively against both the login and the
// display name. MustInclude is a case-sensitive substring test on the body.
// The zero Filter passes everything.
type Filter struct {
	usernames   map[string]struct{}
	MustInclude string
}

// NewFilter builds a Filter from an author allow-list and an optional substring.
// Blank usernames are ignored.
func NewFilter(usernames []string, mustInclude string) Filter {
	f := Filter{MustInclude: mustInclude}
	for _, u := range usernames {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if f.usernames == nil {
			f.usernames = make(map[string]struct{}, len(usernames))
		}
		f.usernames[fold(u)] = struct{}{}
	}
	return f
}

// UserCount returns the number of distinct usernames in the allow-list.
func (f Filter) UserCount() int { return len(f.usernames) }

// Passes reports whether m survives the filter.
func (f Filter) Passes(m Message) bool {
	if len(f.usernames) > 0 && !f.hasAuthor(m) {
		return false
	}
	if f.MustInclude != "" && !strings.Contains(m.Body, f.MustInclude) {
		return false
	}
	return true
}

func (f Filter) hasAuthor(m Message) bool {
	if m.Login != "" {
		if _, ok := f.usernames[fold(m.Login)]; ok {
			return true
		}
	}
	if m.Author != "" {
		if _, ok := f.usernames[fold(m.Author)]; ok {
			return true
		}
	}
	return false
}

// fold returns the case-folded form of s. A Caser is stateful, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
