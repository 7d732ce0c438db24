package store

import (
	"fmt"
	"strings"
)

// FindRemote resolves a locator to exactly one remote. An exact alias
// match wins outright; otherwise the locator is matched as a substring
// of alias or host. More than one substring match is an error carrying
// the candidate aliases.
func (s *Store) FindRemote(locator string) (Remote, error) {
	remotes, err := s.ListRemotes()
	if err != nil {
		return Remote{}, err
	}
	return matchRemote(remotes, locator)
}

// matchRemote is the pure ranking function behind FindRemote.
func matchRemote(remotes []Remote, locator string) (Remote, error) {
	q := strings.ToLower(strings.TrimSpace(locator))
	if q == "" {
		return Remote{}, &ValidationError{Field: "remote locator", Reason: "must not be empty"}
	}

	for _, r := range remotes {
		if strings.ToLower(r.Alias) == q {
			return r, nil
		}
	}

	var matches []Remote
	for _, r := range remotes {
		if strings.Contains(strings.ToLower(r.Alias), q) || strings.Contains(strings.ToLower(r.Host), q) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return Remote{}, fmt.Errorf("%w: %s", ErrRemoteNotFound, locator)
	case 1:
		return matches[0], nil
	default:
		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			candidates = append(candidates, m.Alias)
		}
		return Remote{}, &MultipleMatchesError{Query: locator, Candidates: candidates}
	}
}
