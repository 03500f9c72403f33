package store

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/zksecurity/vibenote/internal/store/kv"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(kv.NewMemory(), "owner/notes")
	t.Cleanup(s.Close)
	return s
}

// markSyncedAt stamps a file as confirmed remote at the given sha, as the
// sync engine does after a successful commit.
func markSyncedAt(t *testing.T, s *Store, id, sha string) {
	t.Helper()
	doc, err := s.LoadFile(id)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := s.MarkSynced(id, sha, doc.LocalHash()); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
}

func TestCreateFile(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFile("notes/Hello.md", []byte("# hi\n"), KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if meta.Path != "notes/Hello.md" {
		t.Errorf("path: got %q, want %q", meta.Path, "notes/Hello.md")
	}
	if meta.Dir != "notes" {
		t.Errorf("dir: got %q, want %q", meta.Dir, "notes")
	}
	if meta.Title != "Hello" {
		t.Errorf("title: got %q, want %q", meta.Title, "Hello")
	}
	if meta.ID == "" {
		t.Error("id is empty")
	}

	doc, err := s.LoadFile(meta.ID)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !bytes.Equal(doc.Content, []byte("# hi\n")) {
		t.Errorf("content: got %q", doc.Content)
	}
	if !doc.Dirty() {
		t.Error("a never-synced file should be dirty")
	}
}

func TestCreateFile_DuplicatePath(t *testing.T) {
	s := testStore(t)

	if _, err := s.CreateFile("a.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	_, err := s.CreateFile("a.md", nil, KindText)
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestCreateFile_NormalizesPath(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFile("/notes//a.md", nil, KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if meta.Path != "notes/a.md" {
		t.Errorf("path: got %q, want %q", meta.Path, "notes/a.md")
	}

	if _, ok, _ := s.FindByPath("notes/a.md"); !ok {
		t.Error("FindByPath missed the normalized path")
	}
}

func TestUpdateContent(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFile("a.md", []byte("one"), KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	markSyncedAt(t, s, meta.ID, "sha1")

	doc, _ := s.LoadFile(meta.ID)
	if doc.Dirty() {
		t.Fatal("freshly synced file should be clean")
	}

	if err := s.UpdateContent(meta.ID, []byte("two")); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	doc, _ = s.LoadFile(meta.ID)
	if !doc.Dirty() {
		t.Error("edited file should be dirty")
	}
	if doc.LastRemoteSha != "sha1" {
		t.Errorf("edit must not touch sync markers, got sha %q", doc.LastRemoteSha)
	}
}

func TestUpdateContent_PointerRejected(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFromRemote("img.bin", nil, KindPointer, "blobsha")
	if err != nil {
		t.Fatalf("CreateFromRemote: %v", err)
	}
	if err := s.UpdateContent(meta.ID, []byte("x")); err == nil {
		t.Fatal("expected error updating a pointer asset")
	}
}

func TestRenameFile_UnsyncedLeavesNoTombstone(t *testing.T) {
	s := testStore(t)

	if _, err := s.CreateFile("a.md", []byte("x"), KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.RenameFile("a.md", "b.md"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}

	tombs, err := s.Tombstones()
	if err != nil {
		t.Fatalf("Tombstones: %v", err)
	}
	if len(tombs) != 0 {
		t.Fatalf("expected no tombstones, got %v", tombs)
	}
	if _, ok, _ := s.FindByPath("b.md"); !ok {
		t.Error("file missing at new path")
	}
	if _, ok, _ := s.FindByPath("a.md"); ok {
		t.Error("file still live at old path")
	}
}

func TestRenameFile_SyncedLeavesTombstoneAndClearsMarkers(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFile("a.md", []byte("x"), KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	markSyncedAt(t, s, meta.ID, "sha1")

	if err := s.RenameFile("a.md", "b.md"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}

	tombs, _ := s.Tombstones()
	if len(tombs) != 1 {
		t.Fatalf("expected 1 tombstone, got %d", len(tombs))
	}
	got := tombs[0]
	if got.Op != TombRename || got.Path != "a.md" || got.To != "b.md" || got.LastRemoteSha != "sha1" {
		t.Errorf("tombstone: got %+v", got)
	}

	doc, _ := s.LoadFile(meta.ID)
	if doc.LastRemoteSha != "" || doc.LastSyncedHash != "" {
		t.Errorf("markers should be cleared after rename, got %+v", doc)
	}
	if !doc.Dirty() {
		t.Error("renamed file should be dirty so the next pass pushes it")
	}
}

func TestRenameFile_PointerKeepsMarkers(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFromRemote("big.bin", nil, KindPointer, "blobsha")
	if err != nil {
		t.Fatalf("CreateFromRemote: %v", err)
	}

	if err := s.RenameFile("big.bin", "huge.bin"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}

	tombs, _ := s.Tombstones()
	if len(tombs) != 1 {
		t.Fatalf("expected 1 tombstone, got %d", len(tombs))
	}

	doc, _ := s.LoadFile(meta.ID)
	if doc.LastRemoteSha != "blobsha" {
		t.Errorf("pointer rename must keep the remote sha for blob reuse, got %q", doc.LastRemoteSha)
	}
	if doc.PointerSha != "blobsha" {
		t.Errorf("pointer sha: got %q", doc.PointerSha)
	}
}

func TestRenameFile_TargetOccupied(t *testing.T) {
	s := testStore(t)

	if _, err := s.CreateFile("a.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := s.CreateFile("b.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.RenameFile("a.md", "b.md"); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestMoveFileToDir(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFile("a.md", nil, KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.MoveFileToDir(meta.ID, "archive/2026"); err != nil {
		t.Fatalf("MoveFileToDir: %v", err)
	}

	doc, _ := s.LoadFile(meta.ID)
	if doc.Path != "archive/2026/a.md" {
		t.Errorf("path: got %q", doc.Path)
	}
	if doc.Dir != "archive/2026" {
		t.Errorf("dir: got %q", doc.Dir)
	}
}

func TestDeleteFile(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFile("a.md", []byte("x"), KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	markSyncedAt(t, s, meta.ID, "sha1")

	if err := s.DeleteFile("a.md"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, ok, _ := s.FindByPath("a.md"); ok {
		t.Error("file still live after delete")
	}
	if _, err := s.LoadFile(meta.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound loading deleted doc, got %v", err)
	}

	tombs, _ := s.Tombstones()
	if len(tombs) != 1 || tombs[0].Op != TombDelete || tombs[0].LastRemoteSha != "sha1" {
		t.Fatalf("tombstones: got %+v", tombs)
	}
}

func TestDeleteFile_UnsyncedLeavesNoTombstone(t *testing.T) {
	s := testStore(t)

	if _, err := s.CreateFile("a.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.DeleteFile("a.md"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	tombs, _ := s.Tombstones()
	if len(tombs) != 0 {
		t.Fatalf("expected no tombstones, got %v", tombs)
	}
}

func TestDeleteFile_Missing(t *testing.T) {
	s := testStore(t)
	if err := s.DeleteFile("nope.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiles_SortedByPath(t *testing.T) {
	s := testStore(t)

	for _, p := range []string{"c.md", "a.md", "b/x.md"} {
		if _, err := s.CreateFile(p, nil, KindText); err != nil {
			t.Fatalf("CreateFile %q: %v", p, err)
		}
	}
	metas, err := s.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	var got []string
	for _, m := range metas {
		got = append(got, m.Path)
	}
	want := []string{"a.md", "b/x.md", "c.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("paths: got %v, want %v", got, want)
	}
}

func TestFolders_IncludesImplicitAncestors(t *testing.T) {
	s := testStore(t)

	if err := s.CreateFolder("empty"); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if _, err := s.CreateFile("a/b/c.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	folders, err := s.Folders()
	if err != nil {
		t.Fatalf("Folders: %v", err)
	}
	want := []string{"a", "a/b", "empty"}
	if !reflect.DeepEqual(folders, want) {
		t.Errorf("folders: got %v, want %v", folders, want)
	}
}

func TestRenameFolder_MovesDescendantsWithTombstones(t *testing.T) {
	s := testStore(t)

	m1, err := s.CreateFile("docs/a.md", []byte("a"), KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	m2, err := s.CreateFile("docs/sub/b.md", []byte("b"), KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	markSyncedAt(t, s, m1.ID, "sha-a")
	markSyncedAt(t, s, m2.ID, "sha-b")

	if err := s.RenameFolder("docs", "papers"); err != nil {
		t.Fatalf("RenameFolder: %v", err)
	}

	for _, want := range []string{"papers/a.md", "papers/sub/b.md"} {
		if _, ok, _ := s.FindByPath(want); !ok {
			t.Errorf("missing file at %q", want)
		}
	}
	tombs, _ := s.Tombstones()
	if len(tombs) != 2 {
		t.Fatalf("expected one tombstone per synced file, got %d", len(tombs))
	}
	for _, tomb := range tombs {
		if tomb.Op != TombRename {
			t.Errorf("op: got %q", tomb.Op)
		}
	}
}

func TestRenameFolder_IntoItself(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateFile("docs/a.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.MoveFolder("docs", "docs/inner"); err == nil {
		t.Fatal("expected error moving a folder into itself")
	}
}

func TestDeleteFolder(t *testing.T) {
	s := testStore(t)

	m1, err := s.CreateFile("docs/a.md", []byte("a"), KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	markSyncedAt(t, s, m1.ID, "sha-a")
	if _, err := s.CreateFile("docs/b.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := s.CreateFile("keep.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if err := s.DeleteFolder("docs"); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}

	metas, _ := s.ListFiles()
	if len(metas) != 1 || metas[0].Path != "keep.md" {
		t.Fatalf("surviving files: %+v", metas)
	}
	tombs, _ := s.Tombstones()
	if len(tombs) != 1 || tombs[0].Path != "docs/a.md" {
		t.Fatalf("tombstones: %+v", tombs)
	}
}

func TestCreateFromRemote_MarksClean(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFromRemote("a.md", []byte("hello"), KindText, "sha1")
	if err != nil {
		t.Fatalf("CreateFromRemote: %v", err)
	}
	doc, _ := s.LoadFile(meta.ID)
	if doc.Dirty() {
		t.Error("pulled file should be clean")
	}
	if doc.LastRemoteSha != "sha1" {
		t.Errorf("remote sha: got %q", doc.LastRemoteSha)
	}
}

func TestApplyPull(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFromRemote("a.md", []byte("v1"), KindText, "sha1")
	if err != nil {
		t.Fatalf("CreateFromRemote: %v", err)
	}
	if err := s.ApplyPull(meta.ID, []byte("v2"), "sha2"); err != nil {
		t.Fatalf("ApplyPull: %v", err)
	}

	doc, _ := s.LoadFile(meta.ID)
	if string(doc.Content) != "v2" {
		t.Errorf("content: got %q", doc.Content)
	}
	if doc.LastRemoteSha != "sha2" {
		t.Errorf("remote sha: got %q", doc.LastRemoteSha)
	}
	if doc.Dirty() {
		t.Error("pulled file should be clean")
	}
}

func TestAdoptRemoteRename_PreservesIdentityAndMarkers(t *testing.T) {
	s := testStore(t)

	meta, err := s.CreateFromRemote("a.md", []byte("x"), KindText, "sha1")
	if err != nil {
		t.Fatalf("CreateFromRemote: %v", err)
	}
	if err := s.AdoptRemoteRename(meta.ID, "b.md"); err != nil {
		t.Fatalf("AdoptRemoteRename: %v", err)
	}

	doc, _ := s.LoadFile(meta.ID)
	if doc.Path != "b.md" {
		t.Errorf("path: got %q", doc.Path)
	}
	if doc.LastRemoteSha != "sha1" {
		t.Errorf("adopting a remote rename must keep markers, got %q", doc.LastRemoteSha)
	}
	tombs, _ := s.Tombstones()
	if len(tombs) != 0 {
		t.Fatalf("adopting a remote rename must not record a tombstone, got %v", tombs)
	}
}

func TestRemoveTombstones(t *testing.T) {
	s := testStore(t)

	m1, err := s.CreateFile("a.md", []byte("x"), KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	markSyncedAt(t, s, m1.ID, "sha-a")
	m2, err := s.CreateFile("b.md", []byte("y"), KindText)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	markSyncedAt(t, s, m2.ID, "sha-b")

	if err := s.DeleteFile("a.md"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := s.DeleteFile("b.md"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	tombs, _ := s.Tombstones()
	if len(tombs) != 2 {
		t.Fatalf("expected 2 tombstones, got %d", len(tombs))
	}
	if err := s.RemoveTombstones(tombs[:1]); err != nil {
		t.Fatalf("RemoveTombstones: %v", err)
	}
	rest, _ := s.Tombstones()
	if len(rest) != 1 || rest[0].Path != "b.md" {
		t.Fatalf("remaining tombstones: %+v", rest)
	}
}

func TestMalformedRecordTreatedAsAbsent(t *testing.T) {
	kvs := kv.NewMemory()
	s := New(kvs, "owner/notes")
	defer s.Close()

	if err := kvs.Set("vibenote/owner/notes/index", "{not json"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	metas, err := s.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(metas) != 0 {
		t.Fatalf("expected empty index, got %v", metas)
	}
	// The store stays writable after discarding the bad record.
	if _, err := s.CreateFile("a.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
}

func TestReplicasObserveEachOther(t *testing.T) {
	kvs := kv.NewMemory()
	s1 := New(kvs, "owner/notes")
	defer s1.Close()
	s2 := New(kvs, "owner/notes")
	defer s2.Close()

	// Warm both caches.
	if _, err := s1.ListFiles(); err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if _, err := s2.ListFiles(); err != nil {
		t.Fatalf("ListFiles: %v", err)
	}

	if _, err := s1.CreateFile("a.md", nil, KindText); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	metas, err := s2.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(metas) != 1 || metas[0].Path != "a.md" {
		t.Fatalf("replica did not observe the write: %+v", metas)
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("hello"))
	c := ContentHash([]byte("hello!"))
	if a != b {
		t.Errorf("same content hashed differently: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("different content collided: %q", a)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"a/b.md", "a/b.md"},
		{"/a/b.md", "a/b.md"},
		{"a/b.md/", "a/b.md"},
		{"a//b.md", "a/b.md"},
		{"a\\b.md", "a/b.md"},
		{"./a.md", "a.md"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePath(tc.in); got != tc.want {
			t.Errorf("NormalizePath(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
