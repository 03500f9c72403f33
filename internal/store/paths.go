package store

import (
	"crypto/rand"
	"encoding/hex"
	"mime"
	"path"
	"strings"
)

// NormalizePath cleans a repository-relative path: forward slashes, no
// leading or trailing slash.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// splitPath returns the directory ("" for the root) and file name.
func splitPath(p string) (dir, name string) {
	dir, name = path.Split(p)
	return strings.TrimSuffix(dir, "/"), name
}

// joinPath joins a directory ("" for the root) and a file name.
func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// titleOf derives a display title from a file name (extension stripped).
func titleOf(name string) string {
	if ext := path.Ext(name); ext != "" {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// mimeOf guesses a MIME type from a file name.
func mimeOf(name string) string {
	if m := mime.TypeByExtension(path.Ext(name)); m != "" {
		return m
	}
	return "application/octet-stream"
}

// newID returns a random 16-hex-character file identifier.
func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("store: rand.Read: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// underDir reports whether p sits at or below dir, and returns the path
// rewritten to newDir when it does.
func underDir(p, dir, newDir string) (string, bool) {
	if p == dir {
		return newDir, true
	}
	if strings.HasPrefix(p, dir+"/") {
		return joinPath(newDir, strings.TrimPrefix(p, dir+"/")), true
	}
	return p, false
}
