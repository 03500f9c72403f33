package github

// TreeEntry is one blob observed in a snapshot read of the remote tree.
type TreeEntry struct {
	Path string `json:"path"`
	Sha  string `json:"sha"`
	Type string `json:"type"`
}

// Change is one element of a batched commit: an upsert carrying either
// new content or a pre-known blob sha (to reuse an identical payload
// without re-uploading), or a deletion.
type Change struct {
	Path    string
	Content []byte
	BlobSha string // reuse an existing blob instead of uploading Content
	Delete  bool
}

// CommitResult reports the commit produced by CommitChanges and the blob
// sha now backing each upserted path.
type CommitResult struct {
	CommitSha     string
	BlobShaByPath map[string]string
}

// wire types

type refResponse struct {
	Ref    string `json:"ref"`
	Object struct {
		Sha  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

type commitResponse struct {
	Sha  string `json:"sha"`
	Tree struct {
		Sha string `json:"sha"`
	} `json:"tree"`
}

type treeResponse struct {
	Sha       string      `json:"sha"`
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

type blobResponse struct {
	Sha      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type contentsResponse struct {
	Sha      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type createBlobRequest struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type createBlobResponse struct {
	Sha string `json:"sha"`
}

type newTreeEntry struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	Sha  *string `json:"sha"` // null removes the path from the tree
}

type createTreeRequest struct {
	BaseTree string         `json:"base_tree,omitempty"`
	Tree     []newTreeEntry `json:"tree"`
}

type createTreeResponse struct {
	Sha string `json:"sha"`
}

type createCommitRequest struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

type createCommitResponse struct {
	Sha string `json:"sha"`
}

type createRefRequest struct {
	Ref string `json:"ref"`
	Sha string `json:"sha"`
}

type updateRefRequest struct {
	Sha   string `json:"sha"`
	Force bool   `json:"force"`
}

type errorResponse struct {
	Message string `json:"message"`
}
