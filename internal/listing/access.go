package listing

import (
	"path"
	"slices"
	"strings"
)

// Role is the coarse permission level of an actor.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Permission is a single capability.
type Permission string

const (
	PermRead   Permission = "read"
	PermWrite  Permission = "write"
	PermDelete Permission = "delete"
	PermShare  Permission = "share"
	PermAdmin  Permission = "admin"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {PermRead, PermWrite, PermDelete, PermShare, PermAdmin},
	RoleUser:  {PermRead, PermShare},
}

// ProtectedPaths are reachable by admins only.
var ProtectedPaths = []string{"/config", "/admin", "/system", "/logs"}

// Allowed reports whether role grants perm.
func Allowed(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PathAllowed reports whether role may touch p, which must be clean.
func PathAllowed(role Role, p string) bool {
	if role == RoleAdmin {
		return true
	}
	for _, prot := range ProtectedPaths {
		if p == prot || strings.HasPrefix(p, prot+"/") {
			return false
		}
	}
	return true
}

// CleanPath returns the canonical absolute form of p and false if p
// tries to escape the root or is empty.
func CleanPath(p string) (string, bool) {
	if strings.TrimSpace(p) == "" {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	return path.Clean("/" + p), true
}

// parentOf returns the directory containing p.
func parentOf(p string) string {
	return path.Dir(p)
}

// UploadPolicy limits accepted uploads.
type UploadPolicy struct {
	MaxFileSize int64
	// AllowedTypes lists lower-case extensions; empty or "*" allows all.
	AllowedTypes []string
}

// DefaultMaxFileSize is 2 GiB.
const DefaultMaxFileSize = 2 << 30

// Check returns the reasons name and size are refused, if any.
func (p UploadPolicy) Check(name string, size int64) []string {
	var problems []string
	limit := p.MaxFileSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if size > limit {
		problems = append(problems, "file too large")
	}
	if len(p.AllowedTypes) > 0 && !slices.Contains(p.AllowedTypes, "*") {
		if !slices.Contains(p.AllowedTypes, extension(name)) {
			problems = append(problems, "file type not allowed")
		}
	}
	return problems
}

func extension(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

func joinPath(dir, name string) string {
	return path.Join(dir, name)
}

// validName reports whether name is usable as a single path element.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." || len(name) > 255 {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
