// Package config handles discovery of the Redis-compatible store URL and
// the local audit-log directory.
package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvStoreURL overrides the store connection URL.
	EnvStoreURL = "RWLOCK_URL"
	// EnvAuditDir overrides the local audit-log directory.
	EnvAuditDir = "RWLOCK_AUDIT_DIR"
	// EnvNamespace overrides the default key namespace.
	EnvNamespace = "RWLOCK_NAMESPACE"

	// DefaultURL is used when neither a flag nor EnvStoreURL is set.
	DefaultURL = "redis://localhost:6379/0"
	// DefaultAuditDirName is the directory created under the user's home
	// directory when EnvAuditDir is unset.
	DefaultAuditDirName = ".rwlockd"
)

// StoreURLMethod indicates how the store URL was discovered.
type StoreURLMethod int

const (
	// MethodFlag indicates the URL came from an explicit --url argument.
	MethodFlag StoreURLMethod = iota
	// MethodEnvVar indicates the URL came from RWLOCK_URL.
	MethodEnvVar
	// MethodDefault indicates the built-in default was used.
	MethodDefault
)

// String returns a human-readable name for the discovery method.
func (m StoreURLMethod) String() string {
	switch m {
	case MethodFlag:
		return "flag"
	case MethodEnvVar:
		return "env"
	case MethodDefault:
		return "default"
	default:
		return "unknown"
	}
}

// StoreURL resolves the store connection URL using the following
// precedence:
//  1. flagValue, if non-empty (an explicit --url argument).
//  2. RWLOCK_URL environment variable.
//  3. DefaultURL.
func StoreURL(flagValue string) (string, StoreURLMethod) {
	if flagValue != "" {
		return flagValue, MethodFlag
	}
	if envURL := os.Getenv(EnvStoreURL); envURL != "" {
		return envURL, MethodEnvVar
	}
	return DefaultURL, MethodDefault
}

// Namespace resolves the key namespace using RWLOCK_NAMESPACE, falling
// back to the caller-supplied default when unset.
func Namespace(defaultNamespace string) string {
	if ns := os.Getenv(EnvNamespace); ns != "" {
		return ns
	}
	return defaultNamespace
}

// AuditDir resolves the local audit-log directory:
//  1. RWLOCK_AUDIT_DIR environment variable.
//  2. ~/.rwlockd
func AuditDir() (string, error) {
	if dir := os.Getenv(EnvAuditDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultAuditDirName), nil
}

// EnsureAuditDir creates the audit directory if it doesn't exist.
func EnsureAuditDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
