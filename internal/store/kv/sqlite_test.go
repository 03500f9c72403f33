package kv

import (
	"path/filepath"
	"reflect"
	"testing"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_GetSetDelete(t *testing.T) {
	s := openTestSQLite(t)

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	if err := s.Set("k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || v != "v1" {
		t.Errorf("Get: got %q ok=%v", v, ok)
	}

	if err := s.Set("k", "v2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, _, _ = s.Get("k")
	if v != "v2" {
		t.Errorf("Get after upsert: got %q", v)
	}

	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("key still present after delete")
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestSQLite_Keys(t *testing.T) {
	s := openTestSQLite(t)

	for _, k := range []string{"repo/a/2", "repo/a/1", "repo/b/1", "other"} {
		if err := s.Set(k, "x"); err != nil {
			t.Fatalf("Set %q: %v", k, err)
		}
	}

	keys, err := s.Keys("repo/a/")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"repo/a/1", "repo/a/2"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys: got %v, want %v", keys, want)
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	v, ok, err := s2.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || v != "v" {
		t.Errorf("Get after reopen: got %q ok=%v", v, ok)
	}
}

func TestSQLite_Subscribe(t *testing.T) {
	s := openTestSQLite(t)

	var got []string
	cancel := s.Subscribe("a/", func(key string) {
		got = append(got, key)
	})
	defer cancel()

	s.Set("a/1", "x")
	s.Set("b/1", "x")
	s.Delete("a/1")

	want := []string{"a/1", "a/1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("notifications: got %v, want %v", got, want)
	}
}
