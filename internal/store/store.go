// Package store owns the local file index, per-file documents, folder
// set, and tombstone log for one repository. All local mutations go
// through it, and it is the sole source of truth for what changed
// locally since the last sync.
//
// State persists into a kv.Store under keys namespaced by repository
// identifier. The store re-reads persisted records rather than trusting
// an in-memory snapshot, so several replicas of the same repository in
// one process observe each other's writes; a change notification from
// the KV layer invalidates the cached index.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zksecurity/vibenote/internal/logging"
	"github.com/zksecurity/vibenote/internal/store/kv"
)

var (
	// ErrNotFound is returned when no live file matches a path or id.
	ErrNotFound = errors.New("file not found")
	// ErrExists is returned when a mutation would produce a second live
	// file at the same path.
	ErrExists = errors.New("path already exists")
)

// Store is the local file store for one repository.
type Store struct {
	kv     kv.Store
	repoID string

	mu sync.Mutex // serializes mutations

	cacheMu sync.Mutex
	index   []FileMeta // nil when the cache is invalid
	cancel  func()
}

// New binds a store to a repository identifier on top of a KV store.
func New(kvs kv.Store, repoID string) *Store {
	s := &Store{kv: kvs, repoID: repoID}
	s.cancel = kvs.Subscribe(s.prefix(), func(string) {
		s.cacheMu.Lock()
		s.index = nil
		s.cacheMu.Unlock()
	})
	return s
}

// Close cancels the store's KV subscription. The KV store itself is
// owned by the caller.
func (s *Store) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// RepoID returns the repository identifier the store is bound to.
func (s *Store) RepoID() string { return s.repoID }

func (s *Store) prefix() string            { return "vibenote/" + s.repoID + "/" }
func (s *Store) key(parts ...string) string { return s.prefix() + strings.Join(parts, "/") }

// --- persisted records -------------------------------------------------

// loadJSON reads and decodes one record. Malformed or missing records
// are treated as absent, never as fatal errors.
func (s *Store) loadJSON(key string, v any) (bool, error) {
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		logging.L().Warn("discarding malformed record",
			zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (s *Store) saveJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.kv.Set(key, string(raw))
}

func (s *Store) loadIndex() ([]FileMeta, error) {
	s.cacheMu.Lock()
	cached := s.index
	s.cacheMu.Unlock()
	if cached != nil {
		return append([]FileMeta(nil), cached...), nil
	}

	var index []FileMeta
	if _, err := s.loadJSON(s.key("index"), &index); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	s.cacheMu.Lock()
	s.index = append([]FileMeta(nil), index...)
	s.cacheMu.Unlock()
	return index, nil
}

func (s *Store) saveIndex(index []FileMeta) error {
	sort.Slice(index, func(i, j int) bool { return index[i].Path < index[j].Path })
	if err := s.saveJSON(s.key("index"), index); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

func (s *Store) loadDoc(id string) (FileDoc, bool, error) {
	var doc FileDoc
	ok, err := s.loadJSON(s.key("doc", id), &doc)
	return doc, ok, err
}

func (s *Store) saveDoc(doc FileDoc) error {
	return s.saveJSON(s.key("doc", doc.ID), doc)
}

func (s *Store) loadFolders() ([]string, error) {
	var folders []string
	_, err := s.loadJSON(s.key("folders"), &folders)
	return folders, err
}

func (s *Store) loadTombstones() ([]Tombstone, error) {
	var tombs []Tombstone
	_, err := s.loadJSON(s.key("tombstones"), &tombs)
	return tombs, err
}

func (s *Store) saveTombstones(tombs []Tombstone) error {
	return s.saveJSON(s.key("tombstones"), tombs)
}

func (s *Store) appendTombstone(t Tombstone) error {
	tombs, err := s.loadTombstones()
	if err != nil {
		return err
	}
	return s.saveTombstones(append(tombs, t))
}

// --- read accessors -----------------------------------------------------

// ListFiles returns the metas of all live files, sorted by path.
func (s *Store) ListFiles() ([]FileMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadIndex()
}

// LoadFile returns the full document for a file id.
func (s *Store) LoadFile(id string) (FileDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok, err := s.loadDoc(id)
	if err != nil {
		return FileDoc{}, err
	}
	if !ok {
		return FileDoc{}, fmt.Errorf("load %q: %w", id, ErrNotFound)
	}
	return doc, nil
}

// FindByPath returns the meta of the live file at path, if any.
func (s *Store) FindByPath(p string) (FileMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByPath(NormalizePath(p))
}

func (s *Store) findByPath(p string) (FileMeta, bool, error) {
	index, err := s.loadIndex()
	if err != nil {
		return FileMeta{}, false, err
	}
	for _, m := range index {
		if m.Path == p {
			return m, true, nil
		}
	}
	return FileMeta{}, false, nil
}

// Folders returns the folder set: explicitly created folders plus every
// ancestor path segment of any live file, sorted.
func (s *Store) Folders() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	explicit, err := s.loadFolders()
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	for _, f := range explicit {
		set[f] = true
	}
	for _, m := range index {
		for dir := m.Dir; dir != ""; dir, _ = splitPath(dir) {
			set[dir] = true
		}
	}

	folders := make([]string, 0, len(set))
	for f := range set {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders, nil
}

// Tombstones returns the pending tombstone log in append order.
func (s *Store) Tombstones() ([]Tombstone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTombstones()
}

// --- user mutations ------------------------------------------------------

// CreateFile creates a new live file at path.
func (s *Store) CreateFile(p string, content []byte, kind Kind) (FileMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createFile(p, content, kind, "", "")
}

func (s *Store) createFile(p string, content []byte, kind Kind, remoteSha, syncedHash string) (FileMeta, error) {
	p = NormalizePath(p)
	if p == "" {
		return FileMeta{}, fmt.Errorf("create file: empty path")
	}
	if _, ok, err := s.findByPath(p); err != nil {
		return FileMeta{}, err
	} else if ok {
		return FileMeta{}, fmt.Errorf("create %q: %w", p, ErrExists)
	}

	dir, name := splitPath(p)
	meta := FileMeta{
		ID:        newID(),
		Path:      p,
		Title:     titleOf(name),
		Dir:       dir,
		UpdatedAt: time.Now().UnixMilli(),
		Kind:      kind,
		Mime:      mimeOf(name),
	}
	doc := FileDoc{
		FileMeta:       meta,
		LastRemoteSha:  remoteSha,
		LastSyncedHash: syncedHash,
	}
	if kind == KindPointer {
		doc.PointerSha = remoteSha
	} else {
		doc.Content = content
	}

	if err := s.saveDoc(doc); err != nil {
		return FileMeta{}, err
	}
	index, err := s.loadIndex()
	if err != nil {
		return FileMeta{}, err
	}
	if err := s.saveIndex(append(index, meta)); err != nil {
		return FileMeta{}, err
	}
	return meta, nil
}

// UpdateContent replaces the content of a live file. Sync markers are
// untouched; dirtiness is detected by fingerprint comparison.
func (s *Store) UpdateContent(id string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok, err := s.loadDoc(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update %q: %w", id, ErrNotFound)
	}
	if doc.Kind == KindPointer {
		return fmt.Errorf("update %q: pointer assets hold no local content", doc.Path)
	}
	doc.Content = content
	doc.UpdatedAt = time.Now().UnixMilli()
	return s.saveDoc(doc)
}

// RenameFile renames the live file at path to a new name in the same
// directory.
func (s *Store) RenameFile(p, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = NormalizePath(p)
	meta, ok, err := s.findByPath(p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rename %q: %w", p, ErrNotFound)
	}
	return s.moveFile(meta.ID, joinPath(meta.Dir, newName))
}

// MoveFileToDir moves a file (by id) into another directory, keeping its
// name.
func (s *Store) MoveFileToDir(id, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok, err := s.loadDoc(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("move %q: %w", id, ErrNotFound)
	}
	_, name := splitPath(doc.Path)
	return s.moveFile(id, joinPath(NormalizePath(dir), name))
}

// moveFile applies a local rename/move. A previously-synced file leaves
// a Rename tombstone behind and loses its sync markers on the moved
// copy, except pointer assets which keep them for blob reuse.
func (s *Store) moveFile(id, newPath string) error {
	newPath = NormalizePath(newPath)
	doc, ok, err := s.loadDoc(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("move %q: %w", id, ErrNotFound)
	}
	if newPath == doc.Path {
		return nil
	}
	if _, ok, err := s.findByPath(newPath); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("move to %q: %w", newPath, ErrExists)
	}

	oldPath := doc.Path
	if doc.LastRemoteSha != "" {
		if err := s.appendTombstone(Tombstone{
			Op:            TombRename,
			Path:          oldPath,
			To:            newPath,
			LastRemoteSha: doc.LastRemoteSha,
			At:            time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
		if doc.Kind != KindPointer {
			doc.LastRemoteSha = ""
			doc.LastSyncedHash = ""
		}
	}

	dir, name := splitPath(newPath)
	doc.Path = newPath
	doc.Dir = dir
	doc.Title = titleOf(name)
	doc.Mime = mimeOf(name)
	doc.UpdatedAt = time.Now().UnixMilli()

	if err := s.saveDoc(doc); err != nil {
		return err
	}
	return s.updateIndexMeta(doc.FileMeta)
}

func (s *Store) updateIndexMeta(meta FileMeta) error {
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].ID == meta.ID {
			index[i] = meta
			return s.saveIndex(index)
		}
	}
	return s.saveIndex(append(index, meta))
}

// DeleteFile removes the live file at path. A previously-synced file
// leaves a Delete tombstone behind.
func (s *Store) DeleteFile(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteFile(NormalizePath(p), true)
}

func (s *Store) deleteFile(p string, tombstone bool) error {
	meta, ok, err := s.findByPath(p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete %q: %w", p, ErrNotFound)
	}
	doc, ok, err := s.loadDoc(meta.ID)
	if err != nil {
		return err
	}

	if tombstone && ok && doc.LastRemoteSha != "" {
		if err := s.appendTombstone(Tombstone{
			Op:            TombDelete,
			Path:          p,
			LastRemoteSha: doc.LastRemoteSha,
			At:            time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
	}

	if err := s.kv.Delete(s.key("doc", meta.ID)); err != nil {
		return err
	}
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	kept := index[:0]
	for _, m := range index {
		if m.ID != meta.ID {
			kept = append(kept, m)
		}
	}
	return s.saveIndex(kept)
}

// --- folder mutations ----------------------------------------------------

// CreateFolder records an explicit (possibly empty) folder.
func (s *Store) CreateFolder(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = NormalizePath(p)
	if p == "" {
		return fmt.Errorf("create folder: empty path")
	}
	folders, err := s.loadFolders()
	if err != nil {
		return err
	}
	for _, f := range folders {
		if f == p {
			return nil
		}
	}
	return s.saveJSON(s.key("folders"), append(folders, p))
}

// RenameFolder renames a folder in place, moving every descendant file
// with it. Each affected file gets its own Rename tombstone so the
// remote propagation invariants hold for recursive moves.
func (s *Store) RenameFolder(p, newName string) error {
	p = NormalizePath(p)
	parent, _ := splitPath(p)
	return s.relocateFolder(p, joinPath(parent, newName))
}

// MoveFolder moves a folder (and every descendant file) under newDir.
func (s *Store) MoveFolder(p, newDir string) error {
	p = NormalizePath(p)
	_, name := splitPath(p)
	return s.relocateFolder(p, joinPath(NormalizePath(newDir), name))
}

func (s *Store) relocateFolder(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldPath == "" || newPath == "" {
		return fmt.Errorf("relocate folder: empty path")
	}
	if newPath == oldPath || strings.HasPrefix(newPath, oldPath+"/") {
		return fmt.Errorf("relocate folder %q into itself", oldPath)
	}

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	// Ordered bulk application of per-file moves keeps the unique-path
	// and tombstone-per-mutation invariants.
	sort.Slice(index, func(i, j int) bool { return index[i].Path < index[j].Path })
	for _, m := range index {
		if moved, ok := underDir(m.Path, oldPath, newPath); ok {
			if err := s.moveFile(m.ID, moved); err != nil {
				return fmt.Errorf("move %q: %w", m.Path, err)
			}
		}
	}

	folders, err := s.loadFolders()
	if err != nil {
		return err
	}
	changed := false
	for i, f := range folders {
		if moved, ok := underDir(f, oldPath, newPath); ok {
			folders[i] = moved
			changed = true
		}
	}
	if !changed {
		folders = append(folders, newPath)
	}
	return s.saveJSON(s.key("folders"), folders)
}

// DeleteFolder deletes every file at or below the folder path, leaving
// one tombstone per previously-synced file.
func (s *Store) DeleteFolder(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = NormalizePath(p)
	if p == "" {
		return fmt.Errorf("delete folder: empty path")
	}

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Path < index[j].Path })
	for _, m := range index {
		if _, ok := underDir(m.Path, p, p); ok {
			if err := s.deleteFile(m.Path, true); err != nil {
				return err
			}
		}
	}

	folders, err := s.loadFolders()
	if err != nil {
		return err
	}
	kept := folders[:0]
	for _, f := range folders {
		if _, ok := underDir(f, p, p); !ok {
			kept = append(kept, f)
		}
	}
	return s.saveJSON(s.key("folders"), kept)
}

// --- sync-engine mutations ------------------------------------------------
//
// These never create tombstones: they apply already-reconciled remote
// state, so recording them as pending local mutations would echo remote
// changes back as new ones.

// CreateFromRemote materializes a file pulled from the remote and marks
// it synced at the given blob sha.
func (s *Store) CreateFromRemote(p string, content []byte, kind Kind, remoteSha string) (FileMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	syncedHash := ContentHash(content)
	if kind == KindPointer {
		syncedHash = "ptr:" + remoteSha
	}
	return s.createFile(p, content, kind, remoteSha, syncedHash)
}

// RecreateUnsynced materializes remote content locally with no sync
// markers, so the next pass restores it by pushing.
func (s *Store) RecreateUnsynced(p string, content []byte, kind Kind) (FileMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createFile(p, content, kind, "", "")
}

// ApplyPull overwrites local state with reconciled content confirmed on
// the remote at remoteSha.
func (s *Store) ApplyPull(id string, content []byte, remoteSha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok, err := s.loadDoc(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pull %q: %w", id, ErrNotFound)
	}
	if doc.Kind == KindPointer {
		doc.PointerSha = remoteSha
	} else {
		doc.Content = content
	}
	doc.LastRemoteSha = remoteSha
	doc.LastSyncedHash = doc.LocalHash()
	doc.UpdatedAt = time.Now().UnixMilli()
	if err := s.saveDoc(doc); err != nil {
		return err
	}
	return s.updateIndexMeta(doc.FileMeta)
}

// AdoptRemoteRename moves a file to the path it now occupies on the
// remote, preserving its identity and sync markers.
func (s *Store) AdoptRemoteRename(id, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newPath = NormalizePath(newPath)
	doc, ok, err := s.loadDoc(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("adopt rename %q: %w", id, ErrNotFound)
	}
	if _, ok, err := s.findByPath(newPath); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("adopt rename to %q: %w", newPath, ErrExists)
	}

	dir, name := splitPath(newPath)
	doc.Path = newPath
	doc.Dir = dir
	doc.Title = titleOf(name)
	doc.Mime = mimeOf(name)
	doc.UpdatedAt = time.Now().UnixMilli()
	if err := s.saveDoc(doc); err != nil {
		return err
	}
	return s.updateIndexMeta(doc.FileMeta)
}

// RemoveLocalOnly deletes a file without leaving a tombstone: the
// deletion was already observed on the remote, so there is nothing left
// to propagate.
func (s *Store) RemoveLocalOnly(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteFile(NormalizePath(p), false)
}

// MarkSynced records that local content was confirmed on the remote.
func (s *Store) MarkSynced(id, remoteSha, syncedHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok, err := s.loadDoc(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mark synced %q: %w", id, ErrNotFound)
	}
	doc.LastRemoteSha = remoteSha
	doc.LastSyncedHash = syncedHash
	if doc.Kind == KindPointer {
		doc.PointerSha = remoteSha
	}
	return s.saveDoc(doc)
}

// RemoveTombstones drops the given resolved entries from the log,
// preserving the order of the rest.
func (s *Store) RemoveTombstones(resolved []Tombstone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(resolved) == 0 {
		return nil
	}
	tombs, err := s.loadTombstones()
	if err != nil {
		return err
	}
	kept := tombs[:0]
	for _, t := range tombs {
		drop := false
		for _, r := range resolved {
			if t == r {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, t)
		}
	}
	return s.saveTombstones(kept)
}
