// Package github is a stateless client for a GitHub-style repository
// API: branch refs, commit and tree objects, and blobs. Renames and
// deletes are expressed purely as tree-level adds and removals inside
// one batched commit, never as per-file HTTP verbs.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zksecurity/vibenote/internal/logging"
	"github.com/zksecurity/vibenote/internal/metrics"
	"github.com/zksecurity/vibenote/internal/retry"
)

// Client talks to one remote repository.
type Client struct {
	baseURL     string
	owner       string
	repo        string
	httpClient  *http.Client
	tokens      TokenSource
	retryConfig retry.Config
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Owner       string
	Repo        string
	Tokens      TokenSource
	Timeout     time.Duration
	RetryConfig retry.Config
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		tokens:      cfg.Tokens,
		retryConfig: cfg.RetryConfig,
	}
}

// ListTree returns all blobs reachable from the branch head, one
// snapshot read. A branch that does not exist yet yields an empty tree.
func (c *Client) ListTree(ctx context.Context, branch string) ([]TreeEntry, error) {
	headSha, err := c.refSha(ctx, branch)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var commit commitResponse
	if err := c.do(ctx, "read commit", http.MethodGet,
		c.repoPath("git/commits/"+headSha), nil, &commit); err != nil {
		return nil, err
	}

	var tree treeResponse
	if err := c.do(ctx, "list tree", http.MethodGet,
		c.repoPath("git/trees/"+commit.Tree.Sha)+"?recursive=1", nil, &tree); err != nil {
		return nil, err
	}
	if tree.Truncated {
		logging.L().Warn("remote tree listing truncated",
			zap.String("branch", branch), zap.Int("entries", len(tree.Tree)))
	}

	blobs := tree.Tree[:0]
	for _, e := range tree.Tree {
		if e.Type == "blob" {
			blobs = append(blobs, e)
		}
	}
	return blobs, nil
}

// ReadBlob fetches and decodes one blob by sha.
func (c *Client) ReadBlob(ctx context.Context, sha string) ([]byte, error) {
	var blob blobResponse
	if err := c.do(ctx, "read blob", http.MethodGet,
		c.repoPath("git/blobs/"+sha), nil, &blob); err != nil {
		return nil, err
	}
	return decodePayload(blob.Content, blob.Encoding, sha)
}

// ReadFile fetches one path directly via the contents API. This is the
// legacy fallback for when tree listing is unavailable.
func (c *Client) ReadFile(ctx context.Context, branch, path string) ([]byte, string, error) {
	var contents contentsResponse
	p := c.repoPath("contents/"+escapePath(path)) + "?ref=" + url.QueryEscape(branch)
	if err := c.do(ctx, "read file", http.MethodGet, p, nil, &contents); err != nil {
		return nil, "", err
	}
	content, err := decodePayload(contents.Content, contents.Encoding, path)
	if err != nil {
		return nil, "", err
	}
	return content, contents.Sha, nil
}

// CommitChanges applies a mixed batch of upserts and deletions as a
// single commit, creating the branch when it does not exist yet and
// fast-forwarding it otherwise. Any failure aborts the whole batch.
func (c *Client) CommitChanges(ctx context.Context, branch string, changes []Change) (CommitResult, error) {
	if len(changes) == 0 {
		return CommitResult{}, fmt.Errorf("commit changes: empty batch")
	}

	parentSha, err := c.refSha(ctx, branch)
	firstCommit := errors.Is(err, ErrNotFound)
	if err != nil && !firstCommit {
		return CommitResult{}, err
	}

	baseTree := ""
	if !firstCommit {
		var commit commitResponse
		if err := c.do(ctx, "read commit", http.MethodGet,
			c.repoPath("git/commits/"+parentSha), nil, &commit); err != nil {
			return CommitResult{}, err
		}
		baseTree = commit.Tree.Sha
	}

	result := CommitResult{BlobShaByPath: make(map[string]string)}
	entries := make([]newTreeEntry, 0, len(changes))
	for _, ch := range changes {
		if ch.Delete {
			if firstCommit {
				continue // nothing to remove from an empty tree
			}
			entries = append(entries, newTreeEntry{
				Path: ch.Path, Mode: "100644", Type: "blob", Sha: nil,
			})
			continue
		}

		sha := ch.BlobSha
		if sha == "" {
			sha, err = c.createBlob(ctx, ch.Path, ch.Content)
			if err != nil {
				return CommitResult{}, err
			}
		}
		result.BlobShaByPath[ch.Path] = sha
		shaCopy := sha
		entries = append(entries, newTreeEntry{
			Path: ch.Path, Mode: "100644", Type: "blob", Sha: &shaCopy,
		})
	}
	if len(entries) == 0 {
		return CommitResult{}, fmt.Errorf("commit changes: nothing to apply")
	}

	var tree createTreeResponse
	if err := c.do(ctx, "create tree", http.MethodPost,
		c.repoPath("git/trees"), createTreeRequest{BaseTree: baseTree, Tree: entries}, &tree); err != nil {
		return CommitResult{}, err
	}

	commitReq := createCommitRequest{
		Message: commitMessage(changes),
		Tree:    tree.Sha,
	}
	if !firstCommit {
		commitReq.Parents = []string{parentSha}
	}
	var commit createCommitResponse
	if err := c.do(ctx, "create commit", http.MethodPost,
		c.repoPath("git/commits"), commitReq, &commit); err != nil {
		return CommitResult{}, err
	}
	result.CommitSha = commit.Sha

	if firstCommit {
		err = c.do(ctx, "create ref", http.MethodPost, c.repoPath("git/refs"),
			createRefRequest{Ref: "refs/heads/" + branch, Sha: commit.Sha}, nil)
	} else {
		err = c.do(ctx, "update ref", http.MethodPatch,
			c.repoPath("git/refs/heads/"+branch),
			updateRefRequest{Sha: commit.Sha, Force: false}, nil)
	}
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusConflict || apiErr.StatusCode == http.StatusUnprocessableEntity) {
			return CommitResult{}, fmt.Errorf("commit %q: %w", branch, ErrRefMoved)
		}
		return CommitResult{}, err
	}

	return result, nil
}

// refSha resolves a branch to its head commit sha.
func (c *Client) refSha(ctx context.Context, branch string) (string, error) {
	var ref refResponse
	if err := c.do(ctx, "read ref", http.MethodGet,
		c.repoPath("git/ref/heads/"+branch), nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.Sha, nil
}

func (c *Client) createBlob(ctx context.Context, path string, content []byte) (string, error) {
	req := createBlobRequest{
		Content:  base64.StdEncoding.EncodeToString(content),
		Encoding: "base64",
	}
	var resp createBlobResponse
	if err := c.do(ctx, "create blob", http.MethodPost, c.repoPath("git/blobs"), req, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.Path = path
		}
		return "", err
	}
	return resp.Sha, nil
}

func (c *Client) repoPath(suffix string) string {
	return "/repos/" + c.owner + "/" + c.repo + "/" + suffix
}

// do performs one API request with auth and retry. Transport failures
// and 5xx responses are retryable; other non-success statuses are not.
func (c *Client) do(ctx context.Context, op, method, path string, reqBody, respBody any) error {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	return retry.Do(ctx, c.retryConfig, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.tokens != nil {
			token, err := c.tokens.Token(ctx)
			if err != nil {
				return fmt.Errorf("%s: acquire token: %w", op, err)
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordRemoteRequest(op, "transport_error")
			return retry.Retryable(fmt.Errorf("%s: %w", op, err))
		}
		defer resp.Body.Close()
		metrics.RecordRemoteRequest(op, strconv.Itoa(resp.StatusCode))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if respBody == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
				return fmt.Errorf("%s: decode response: %w", op, err)
			}
			return nil
		}

		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		var remoteMsg errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&remoteMsg); err == nil {
			apiErr.Message = remoteMsg.Message
		}
		if resp.StatusCode >= 500 {
			return retry.Retryable(apiErr)
		}
		return apiErr
	})
}

// decodePayload decodes a base64 (or raw) API payload. A decode failure
// names the object so the caller can skip just that file.
func decodePayload(content, encoding, what string) ([]byte, error) {
	switch encoding {
	case "base64", "":
		cleaned := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return -1
			}
			return r
		}, content)
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, &DecodeError{What: what, Err: err}
		}
		return decoded, nil
	case "utf-8":
		return []byte(content), nil
	default:
		return nil, &DecodeError{What: what, Err: fmt.Errorf("unsupported encoding %q", encoding)}
	}
}

func commitMessage(changes []Change) string {
	var upserts, deletes int
	for _, ch := range changes {
		if ch.Delete {
			deletes++
		} else {
			upserts++
		}
	}
	switch {
	case deletes == 0:
		return fmt.Sprintf("vibenote: sync %d file(s)", upserts)
	case upserts == 0:
		return fmt.Sprintf("vibenote: delete %d file(s)", deletes)
	default:
		return fmt.Sprintf("vibenote: sync %d file(s), delete %d", upserts, deletes)
	}
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
