package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mlbox.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertRemote_UpdatesInsteadOfDuplicating(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.UpsertRemote("gpu1", "10.0.0.1", "ubuntu", "", 22); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	r, err := s.UpsertRemote("gpu1", "10.0.0.2", "ubuntu", "", 22)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if r.Host != "10.0.0.2" {
		t.Fatalf("host=%q, want latest value", r.Host)
	}

	remotes, err := s.ListRemotes()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remotes) != 1 {
		t.Fatalf("got %d remotes, want 1", len(remotes))
	}
}

func TestUpsertRemote_Validation(t *testing.T) {
	s := openTestStore(t)

	var verr *ValidationError
	if _, err := s.UpsertRemote("", "10.0.0.1", "ubuntu", "", 22); !errors.As(err, &verr) {
		t.Fatalf("empty alias: got %v, want ValidationError", err)
	}
	if _, err := s.UpsertRemote("gpu1", "not a host", "ubuntu", "", 22); !errors.As(err, &verr) {
		t.Fatalf("bad host: got %v, want ValidationError", err)
	}
	if _, err := s.UpsertRemote("gpu1", "10.0.0.1", "ubuntu", "", 0); !errors.As(err, &verr) {
		t.Fatalf("bad port: got %v, want ValidationError", err)
	}
}

func TestFindRemote_FuzzyMatch(t *testing.T) {
	s := openTestStore(t)
	for _, alias := range []string{"prod-a100", "prod-h100"} {
		if _, err := s.UpsertRemote(alias, "10.0.0.1", "ubuntu", "", 22); err != nil {
			t.Fatalf("upsert %s: %v", alias, err)
		}
	}

	if _, err := s.FindRemote("prod"); err == nil {
		t.Fatalf("ambiguous locator did not fail")
	} else {
		var merr *MultipleMatchesError
		if !errors.As(err, &merr) {
			t.Fatalf("got %v, want MultipleMatchesError", err)
		}
		if len(merr.Candidates) != 2 {
			t.Fatalf("candidates=%v, want both aliases", merr.Candidates)
		}
	}

	r, err := s.FindRemote("prod-a100")
	if err != nil {
		t.Fatalf("exact match: %v", err)
	}
	if r.Alias != "prod-a100" {
		t.Fatalf("alias=%q", r.Alias)
	}

	if _, err := s.FindRemote("h100"); err != nil {
		t.Fatalf("unique substring match: %v", err)
	}

	if _, err := s.FindRemote("nothing"); !errors.Is(err, ErrRemoteNotFound) {
		t.Fatalf("got %v, want ErrRemoteNotFound", err)
	}
}

func TestFindRemote_ExactAliasBeatsSubstring(t *testing.T) {
	s := openTestStore(t)
	// "gpu" is an exact alias and also a substring of "gpu-big".
	for _, alias := range []string{"gpu", "gpu-big"} {
		if _, err := s.UpsertRemote(alias, "10.0.0.1", "ubuntu", "", 22); err != nil {
			t.Fatalf("upsert %s: %v", alias, err)
		}
	}
	r, err := s.FindRemote("gpu")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if r.Alias != "gpu" {
		t.Fatalf("alias=%q, want exact match to win", r.Alias)
	}
}

func TestAssociate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	r, err := s.UpsertRemote("gpu1", "10.0.0.1", "ubuntu", "", 22)
	if err != nil {
		t.Fatalf("upsert remote: %v", err)
	}
	p, err := s.UpsertProject("demo", "demo", []PortMapping{{Service: "app", Local: 8000, Remote: 8000}})
	if err != nil {
		t.Fatalf("upsert project: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Associate(r.ID, p.ID); err != nil {
			t.Fatalf("associate #%d: %v", i+1, err)
		}
	}

	projects, err := s.ProjectsForRemote(r.ID)
	if err != nil {
		t.Fatalf("projects for remote: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("got %d association rows, want 1", len(projects))
	}
	if len(projects[0].Ports) != 1 || projects[0].Ports[0].Service != "app" {
		t.Fatalf("ports did not survive roundtrip: %+v", projects[0].Ports)
	}
}

func TestRemoveRemote_CascadesAssociationsOnly(t *testing.T) {
	s := openTestStore(t)
	r, _ := s.UpsertRemote("gpu1", "10.0.0.1", "ubuntu", "", 22)
	p, _ := s.UpsertProject("demo", "demo", nil)
	if err := s.Associate(r.ID, p.ID); err != nil {
		t.Fatalf("associate: %v", err)
	}

	if err := s.RemoveRemote("gpu1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.FindRemote("gpu1"); !errors.Is(err, ErrRemoteNotFound) {
		t.Fatalf("remote still resolvable: %v", err)
	}
	// The project row persists for future reconnection.
	if _, err := s.GetProject("demo"); err != nil {
		t.Fatalf("project should persist after last remote removal: %v", err)
	}

	if err := s.RemoveRemote("gpu1"); !errors.Is(err, ErrRemoteNotFound) {
		t.Fatalf("removing a removed remote: got %v, want ErrRemoteNotFound", err)
	}
}

func TestNextAlias(t *testing.T) {
	s := openTestStore(t)
	alias, err := s.NextAlias("Demo")
	if err != nil {
		t.Fatalf("next alias: %v", err)
	}
	if alias != "demo-1" {
		t.Fatalf("alias=%q, want demo-1", alias)
	}

	if _, err := s.UpsertRemote("demo-1", "10.0.0.1", "ubuntu", "", 22); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.UpsertRemote("demo-7", "10.0.0.2", "ubuntu", "", 22); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	alias, err = s.NextAlias("demo")
	if err != nil {
		t.Fatalf("next alias: %v", err)
	}
	if alias != "demo-8" {
		t.Fatalf("alias=%q, want demo-8", alias)
	}
}
