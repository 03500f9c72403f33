package store

// Kind classifies the content of a file.
type Kind string

const (
	// KindText is UTF-8 note content, merged line-wise on conflict.
	KindText Kind = "text"
	// KindBinary is an opaque payload held locally in full.
	KindBinary Kind = "binary"
	// KindPointer is a lazily-hydrated asset: only the remote blob sha is
	// held locally, the payload stays on the remote.
	KindPointer Kind = "pointer"
)

// FileMeta describes one live file. ID is assigned at creation and never
// changes, even across rename and move. Exactly one live meta exists per
// path.
type FileMeta struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Title     string `json:"title"`
	Dir       string `json:"dir"`
	UpdatedAt int64  `json:"updated_at"`
	Kind      Kind   `json:"kind"`
	Mime      string `json:"mime,omitempty"`
}

// FileDoc is the full per-file record.
//
// LastRemoteSha is the blob sha of the version last confirmed on the
// remote; empty only for files never yet synced. LastSyncedHash is the
// local content fingerprint at the moment local and remote were last
// known equal, so LastSyncedHash == hash(Content) means no local edit
// since the last sync.
type FileDoc struct {
	FileMeta
	Content        []byte `json:"content,omitempty"`
	PointerSha     string `json:"pointer_sha,omitempty"`
	LastRemoteSha  string `json:"last_remote_sha,omitempty"`
	LastSyncedHash string `json:"last_synced_hash,omitempty"`
}

// LocalHash returns the change-detection fingerprint of the document's
// current local state. Pointer docs fingerprint their blob sha since the
// payload is not held locally.
func (d *FileDoc) LocalHash() string {
	if d.Kind == KindPointer {
		return "ptr:" + d.PointerSha
	}
	return ContentHash(d.Content)
}

// Dirty reports whether the document changed locally since the last sync.
func (d *FileDoc) Dirty() bool {
	return d.LastSyncedHash != d.LocalHash()
}

// TombstoneOp tags the kind of pending local mutation.
type TombstoneOp string

const (
	TombDelete TombstoneOp = "delete"
	TombRename TombstoneOp = "rename"
)

// Tombstone is a durable record of a local delete or rename that has not
// yet been reconciled with the remote. The log is append-only and
// order-preserving; entries are removed only once the sync engine has
// applied or superseded them.
type Tombstone struct {
	Op            TombstoneOp `json:"op"`
	Path          string      `json:"path"`         // deleted path, or rename source
	To            string      `json:"to,omitempty"` // rename target
	LastRemoteSha string      `json:"last_remote_sha,omitempty"`
	At            int64       `json:"at"`
}
