// Package sync reconciles the local file store with the remote
// repository in discrete passes.
//
// One pass snapshots the remote tree, resolves every file into a
// pull/push/merge/rename/delete action, drains the tombstone log
// against the (in-memory, plan-adjusted) remote state, and flushes all
// remote writes as a single batched commit. Local mutations applied
// before a failed commit are safe: they are idempotent inputs to the
// next pass's diff.
//
// Conflict policies, fixed and documented here: text conflicts merge
// line-wise with local-then-remote concatenation of truly conflicting
// hunks; binary and pointer conflicts resolve remote-wins, discarding
// the local edit (asymmetric with text, intentionally); tombstones are
// retried until an explicit sha conflict — a failed commit leaves them
// pending, only success or observed remote divergence clears them.
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/zksecurity/vibenote/internal/blobcache"
	"github.com/zksecurity/vibenote/internal/github"
	"github.com/zksecurity/vibenote/internal/logging"
	"github.com/zksecurity/vibenote/internal/merge"
	"github.com/zksecurity/vibenote/internal/metrics"
	"github.com/zksecurity/vibenote/internal/store"
)

// Remote is the slice of the repository API the engine needs.
// *github.Client satisfies it.
type Remote interface {
	ListTree(ctx context.Context, branch string) ([]github.TreeEntry, error)
	ReadBlob(ctx context.Context, sha string) ([]byte, error)
	CommitChanges(ctx context.Context, branch string, changes []github.Change) (github.CommitResult, error)
}

// Summary counts the files affected by one pass.
type Summary struct {
	Pulled        int
	Pushed        int
	Merged        int
	DeletedRemote int
	DeletedLocal  int
}

// Zero reports whether the pass changed nothing anywhere.
func (s Summary) Zero() bool {
	return s == Summary{}
}

// Assets larger than this pull as remote pointers instead of local
// payloads.
const pointerThreshold = 1 << 20

// Engine runs sync passes for one repository.
type Engine struct {
	store  *store.Store
	remote Remote
	branch string
	cache  blobcache.Cache
}

// New creates an engine. A nil cache disables blob caching.
func New(st *store.Store, remote Remote, branch string, cache blobcache.Cache) *Engine {
	if cache == nil {
		cache = blobcache.Null{}
	}
	return &Engine{store: st, remote: remote, branch: branch, cache: cache}
}

// Sync runs one reconciliation pass. It is not reentrant; callers
// serialize passes per repository (see Coordinator).
func (e *Engine) Sync(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum, err := e.sync(ctx)
	metrics.RecordSyncPass(start, err)
	if err != nil {
		return Summary{}, err
	}
	metrics.RecordFiles("pulled", sum.Pulled)
	metrics.RecordFiles("pushed", sum.Pushed)
	metrics.RecordFiles("merged", sum.Merged)
	metrics.RecordFiles("deleted_remote", sum.DeletedRemote)
	metrics.RecordFiles("deleted_local", sum.DeletedLocal)
	logging.L().Info("sync pass complete",
		zap.String("repo", e.store.RepoID()),
		zap.Int("pulled", sum.Pulled),
		zap.Int("pushed", sum.Pushed),
		zap.Int("merged", sum.Merged),
		zap.Int("deleted_remote", sum.DeletedRemote),
		zap.Int("deleted_local", sum.DeletedLocal))
	return sum, nil
}

func (e *Engine) sync(ctx context.Context) (Summary, error) {
	p, err := e.newPass(ctx)
	if err != nil {
		return Summary{}, err
	}
	if err := p.reconcileRemote(); err != nil {
		return Summary{}, err
	}
	if err := p.reconcileLocalOnly(); err != nil {
		return Summary{}, err
	}
	if err := p.drainTombstones(); err != nil {
		return Summary{}, err
	}
	if err := p.flush(); err != nil {
		return Summary{}, err
	}
	return p.sum, nil
}

// pass is the per-invocation state: the remote snapshot (mutated as the
// plan accretes so later phases see a consistent view), the queued
// changes, and the updates to apply after a successful commit.
type pass struct {
	e   *Engine
	ctx context.Context

	entries   []github.TreeEntry
	remoteMap map[string]string // path -> sha; shaPending for queued pushes
	snapshot  map[string]bool   // paths present in the initial tree read

	docs    map[string]*store.FileDoc // live docs by path
	tombs   []store.Tombstone
	claimed map[string]bool // doc IDs adopted as cross-device rename targets

	changes  []github.Change
	queued   map[string]bool // paths with a queued upsert
	post     []postUpdate
	resolved []store.Tombstone
	sum      Summary
}

// shaPending marks a path whose blob sha is unknown until the commit
// returns.
const shaPending = "!pending"

type postUpdate struct {
	id         string
	path       string
	syncedHash string
	blobSha    string // known up front for blob-reuse pushes
}

func (e *Engine) newPass(ctx context.Context) (*pass, error) {
	entries, err := e.remote.ListTree(ctx, e.branch)
	if err != nil {
		return nil, fmt.Errorf("list remote tree: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	metas, err := e.store.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("list local files: %w", err)
	}
	tombs, err := e.store.Tombstones()
	if err != nil {
		return nil, fmt.Errorf("load tombstones: %w", err)
	}

	p := &pass{
		e:         e,
		ctx:       ctx,
		entries:   entries,
		remoteMap: make(map[string]string, len(entries)),
		snapshot:  make(map[string]bool, len(entries)),
		docs:      make(map[string]*store.FileDoc, len(metas)),
		tombs:     tombs,
		claimed:   make(map[string]bool),
		queued:    make(map[string]bool),
	}
	for _, entry := range entries {
		p.remoteMap[entry.Path] = entry.Sha
		p.snapshot[entry.Path] = true
	}
	for _, m := range metas {
		doc, err := e.store.LoadFile(m.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // index/doc skew: treat the record as absent
			}
			return nil, err
		}
		p.docs[doc.Path] = &doc
	}
	return p, nil
}

func (p *pass) readBlob(sha string) ([]byte, error) {
	if content, ok := p.e.cache.Get(sha); ok {
		return content, nil
	}
	content, err := p.e.remote.ReadBlob(p.ctx, sha)
	if err != nil {
		return nil, err
	}
	p.e.cache.Put(sha, content)
	return content, nil
}

// reconcileRemote resolves every entry of the remote snapshot against
// local state.
func (p *pass) reconcileRemote() error {
	for _, entry := range p.entries {
		doc := p.docs[entry.Path]

		if doc == nil {
			if p.tombstonePending(entry.Path) {
				// Locally deleted or renamed away; the drain phase decides.
				// This must precede rename adoption: a renamed pointer asset
				// keeps its markers and would otherwise match its own old
				// path.
				continue
			}
			adopted, err := p.adoptRename(entry)
			if err != nil {
				return err
			}
			if adopted != nil {
				doc = adopted
			} else {
				if err := p.pullNewFile(entry); err != nil {
					return err
				}
				continue
			}
		}

		if err := p.reconcileMatched(entry, doc); err != nil {
			return err
		}
	}
	return nil
}

// adoptRename looks for a local file that a remote rename moved to
// entry.Path: first by exact sha match against last confirmed remote
// identities, then by synced-hash match against the pulled content.
// Candidates are limited to files whose own path vanished from the
// remote snapshot, in stable path order, so two same-content files can
// never swap identities.
func (p *pass) adoptRename(entry github.TreeEntry) (*store.FileDoc, error) {
	candidates := p.renameCandidates()

	var match *store.FileDoc
	for _, doc := range candidates {
		if doc.LastRemoteSha == entry.Sha {
			match = doc
			break
		}
	}
	if match == nil {
		content, err := p.readBlob(entry.Sha)
		if err != nil {
			return nil, fmt.Errorf("read blob for rename detection %q: %w", entry.Path, err)
		}
		pulledHash := store.ContentHash(content)
		for _, doc := range candidates {
			if doc.LastSyncedHash == pulledHash {
				match = doc
				break
			}
		}
	}
	if match == nil {
		return nil, nil
	}

	oldPath := match.Path
	if err := p.e.store.AdoptRemoteRename(match.ID, entry.Path); err != nil {
		return nil, err
	}
	logging.L().Debug("adopted remote rename",
		zap.String("from", oldPath), zap.String("to", entry.Path))

	delete(p.docs, oldPath)
	match.Path = entry.Path
	p.docs[entry.Path] = match
	p.claimed[match.ID] = true
	return match, nil
}

// renameCandidates returns unclaimed local files absent from the remote
// snapshot, in stable path order.
func (p *pass) renameCandidates() []*store.FileDoc {
	paths := make([]string, 0, len(p.docs))
	for path := range p.docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var out []*store.FileDoc
	for _, path := range paths {
		doc := p.docs[path]
		if p.claimed[doc.ID] || p.snapshot[path] {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func (p *pass) tombstonePending(path string) bool {
	for _, t := range p.tombs {
		if t.Path == path {
			return true
		}
	}
	return false
}

// pullNewFile materializes a remote entry with no local counterpart. A
// payload decode failure skips just this file.
func (p *pass) pullNewFile(entry github.TreeEntry) error {
	content, err := p.readBlob(entry.Sha)
	if err != nil {
		if isDecodeError(err) {
			logging.L().Warn("skipping undecodable remote file",
				zap.String("path", entry.Path), zap.Error(err))
			return nil
		}
		return fmt.Errorf("pull %q: %w", entry.Path, err)
	}

	kind := kindForContent(content)
	if kind == store.KindPointer {
		content = nil
	}
	if _, err := p.e.store.CreateFromRemote(entry.Path, content, kind, entry.Sha); err != nil {
		return err
	}
	doc, err := p.loadByPath(entry.Path)
	if err != nil {
		return err
	}
	p.docs[entry.Path] = doc
	p.sum.Pulled++
	return nil
}

// reconcileMatched handles a remote entry with a live local file at the
// same path.
func (p *pass) reconcileMatched(entry github.TreeEntry, doc *store.FileDoc) error {
	localHash := doc.LocalHash()
	localDirty := localHash != doc.LastSyncedHash

	if entry.Sha == doc.LastRemoteSha {
		// Remote unchanged since the last sync.
		if localDirty {
			p.queuePush(doc, localHash)
			p.sum.Pushed++
		}
		return nil
	}

	// Remote changed. A clean local copy just takes it.
	if !localDirty {
		return p.applyPull(entry, doc)
	}

	remoteContent, err := p.readBlob(entry.Sha)
	if err != nil {
		return fmt.Errorf("pull %q: %w", entry.Path, err)
	}

	// The remote bytes may equal our base even though the sha moved
	// (rename or re-encode on another device): the local edit wins,
	// push-only, no merge.
	if store.ContentHash(remoteContent) == doc.LastSyncedHash {
		p.queuePush(doc, localHash)
		p.sum.Pushed++
		return nil
	}

	if doc.Kind != store.KindText {
		// Binary conflict policy: remote wins, the local edit is
		// discarded.
		logging.L().Warn("binary conflict, remote wins",
			zap.String("path", entry.Path))
		return p.applyPull(entry, doc)
	}

	// Both sides diverged from the base: three-way merge, then push the
	// result.
	var base []byte
	if doc.LastRemoteSha != "" {
		base, err = p.readBlob(doc.LastRemoteSha)
		if err != nil {
			logging.L().Warn("merge base unavailable, merging from empty base",
				zap.String("path", entry.Path), zap.Error(err))
			base = nil
		}
	}
	merged := []byte(merge.Merge(string(base), string(doc.Content), string(remoteContent)))
	if err := p.e.store.UpdateContent(doc.ID, merged); err != nil {
		return err
	}
	doc.Content = merged
	p.queuePush(doc, store.ContentHash(merged))
	p.sum.Merged++
	return nil
}

func (p *pass) applyPull(entry github.TreeEntry, doc *store.FileDoc) error {
	var content []byte
	if doc.Kind != store.KindPointer {
		var err error
		content, err = p.readBlob(entry.Sha)
		if err != nil {
			if isDecodeError(err) {
				logging.L().Warn("skipping undecodable remote file",
					zap.String("path", entry.Path), zap.Error(err))
				return nil
			}
			return fmt.Errorf("pull %q: %w", entry.Path, err)
		}
	}
	if err := p.e.store.ApplyPull(doc.ID, content, entry.Sha); err != nil {
		return err
	}
	if doc.Kind == store.KindPointer {
		doc.PointerSha = entry.Sha
	} else {
		doc.Content = content
	}
	doc.LastRemoteSha = entry.Sha
	doc.LastSyncedHash = doc.LocalHash()
	p.sum.Pulled++
	return nil
}

// reconcileLocalOnly handles files present locally but absent from the
// remote snapshot: dirty ones are restored by pushing (this is how an
// edit survives a concurrent remote delete), clean ones are deleted
// locally (this is how a remote delete propagates).
func (p *pass) reconcileLocalOnly() error {
	paths := make([]string, 0, len(p.docs))
	for path := range p.docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		doc := p.docs[path]
		if p.claimed[doc.ID] || p.snapshot[path] || p.queued[path] {
			continue
		}
		if p.pendingRenameTarget(path) {
			continue // the drain phase pushes rename targets
		}
		if doc.Dirty() {
			p.queuePush(doc, doc.LocalHash())
			p.sum.Pushed++
			continue
		}
		if err := p.e.store.RemoveLocalOnly(path); err != nil {
			return err
		}
		delete(p.docs, path)
		p.sum.DeletedLocal++
	}
	return nil
}

func (p *pass) pendingRenameTarget(path string) bool {
	for _, t := range p.tombs {
		if t.Op == store.TombRename && t.To == path {
			return true
		}
	}
	return false
}

// drainTombstones reconciles each pending local delete/rename against
// the plan-adjusted remote map.
func (p *pass) drainTombstones() error {
	for _, t := range p.tombs {
		switch t.Op {
		case store.TombDelete:
			p.resolveDelete(t)
		case store.TombRename:
			if err := p.resolveRename(t); err != nil {
				return err
			}
		default:
			logging.L().Warn("dropping tombstone with unknown op",
				zap.String("op", string(t.Op)), zap.String("path", t.Path))
			p.resolved = append(p.resolved, t)
		}
	}
	metrics.SetPendingTombstones(len(p.tombs) - len(p.resolved))
	return nil
}

func (p *pass) resolveDelete(t store.Tombstone) {
	sha, present := p.remoteMap[t.Path]
	switch {
	case !present:
		// Already gone remotely: satisfied.
	case p.queued[t.Path]:
		// A fresh local file reoccupied the path and is being pushed;
		// the delete is superseded.
	case t.LastRemoteSha == "" || t.LastRemoteSha == sha:
		p.queueDelete(t.Path)
		p.sum.DeletedRemote++
	default:
		// The remote changed independently after the local delete:
		// remote wins, the next pass pulls it back.
		logging.L().Info("abandoning delete, remote changed",
			zap.String("path", t.Path))
	}
	p.resolved = append(p.resolved, t)
}

func (p *pass) resolveRename(t store.Tombstone) error {
	// Make sure the rename target exists remotely.
	if doc, ok := p.docs[t.To]; ok && !p.queued[t.To] {
		if _, present := p.remoteMap[t.To]; !present {
			p.queuePush(doc, doc.LocalHash())
			p.sum.Pushed++
		}
	}

	sha, present := p.remoteMap[t.Path]
	if !present {
		p.resolved = append(p.resolved, t)
		return nil
	}

	if t.LastRemoteSha != "" && sha != t.LastRemoteSha && sha != shaPending {
		// The old path holds content another device changed after our
		// rename. Keep those edits: materialize them locally (unsynced,
		// so the next pass restores them) before removing the path.
		if _, occupied := p.docs[t.Path]; !occupied {
			content, err := p.readBlob(sha)
			if err != nil {
				return fmt.Errorf("preserve %q before rename cleanup: %w", t.Path, err)
			}
			if !p.contentClaimed(sha, content) {
				kind := kindForContent(content)
				if kind == store.KindPointer {
					kind = store.KindBinary // keep the payload, it is about to vanish remotely
				}
				if _, err := p.e.store.RecreateUnsynced(t.Path, content, kind); err != nil {
					return err
				}
				doc, err := p.loadByPath(t.Path)
				if err != nil {
					return err
				}
				p.docs[t.Path] = doc
			}
		}
	}

	if !p.queued[t.Path] {
		p.queueDelete(t.Path)
		p.sum.DeletedRemote++
	}
	p.resolved = append(p.resolved, t)
	return nil
}

// contentClaimed reports whether any live local file already holds the
// given remote content.
func (p *pass) contentClaimed(sha string, content []byte) bool {
	contentHash := store.ContentHash(content)
	for _, doc := range p.docs {
		if doc.LastRemoteSha == sha || doc.LocalHash() == contentHash {
			return true
		}
	}
	return false
}

func (p *pass) queuePush(doc *store.FileDoc, localHash string) {
	change := github.Change{Path: doc.Path}
	update := postUpdate{id: doc.ID, path: doc.Path, syncedHash: localHash}
	if doc.Kind == store.KindPointer {
		change.BlobSha = doc.PointerSha
		update.blobSha = doc.PointerSha
	} else {
		change.Content = doc.Content
	}
	p.changes = append(p.changes, change)
	p.post = append(p.post, update)
	p.queued[doc.Path] = true
	p.remoteMap[doc.Path] = shaPending
}

func (p *pass) queueDelete(path string) {
	p.changes = append(p.changes, github.Change{Path: path, Delete: true})
	delete(p.remoteMap, path)
}

// flush issues the single batched commit and, on success, records the
// new remote identities and clears resolved tombstones. On failure
// everything pending (tombstones included) stays for the next pass.
func (p *pass) flush() error {
	if len(p.changes) == 0 {
		return p.e.store.RemoveTombstones(p.resolved)
	}

	result, err := p.e.remote.CommitChanges(p.ctx, p.e.branch, p.changes)
	if err != nil {
		return fmt.Errorf("commit batch of %d change(s): %w", len(p.changes), err)
	}

	for _, u := range p.post {
		sha := u.blobSha
		if sha == "" {
			sha = result.BlobShaByPath[u.path]
		}
		if err := p.e.store.MarkSynced(u.id, sha, u.syncedHash); err != nil {
			return err
		}
	}
	return p.e.store.RemoveTombstones(p.resolved)
}

func (p *pass) loadByPath(path string) (*store.FileDoc, error) {
	meta, ok, err := p.e.store.FindByPath(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("load %q: %w", path, store.ErrNotFound)
	}
	doc, err := p.e.store.LoadFile(meta.ID)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// kindForContent classifies pulled content: valid UTF-8 without NUL is
// text, large payloads become lazily-hydrated pointers, the rest is
// binary.
func kindForContent(content []byte) store.Kind {
	if utf8.Valid(content) && !bytes.ContainsRune(content, 0) {
		return store.KindText
	}
	if len(content) > pointerThreshold {
		return store.KindPointer
	}
	return store.KindBinary
}

// isDecodeError distinguishes a malformed payload (skippable per file)
// from transport/API failures (pass-fatal).
func isDecodeError(err error) bool {
	var decodeErr *github.DecodeError
	return errors.As(err, &decodeErr)
}
