// Package protocol implements the five atomic lock protocols as embedded
// Lua scripts, plus the tagged-reply decoding used by the rwlock handle.
package protocol

import (
	"context"
	"embed"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/*.lua
var scriptsFS embed.FS

// Reply is the tagged outcome of an atomic protocol script.
type Reply string

const (
	// ReplyOK means the admission or mutation succeeded.
	ReplyOK Reply = "OK"
	// ReplyBlocked means the caller was enqueued and must retry.
	ReplyBlocked Reply = "BLOCKED"
	// ReplyExpired means a refresh found no live grant for the owner.
	ReplyExpired Reply = "EXPIRED"
)

// Scripts holds the five compiled protocol scripts, ready to Run against
// any redis.Scripter (a plain client or a pipeline).
type Scripts struct {
	AcquireExclusive *redis.Script
	AcquireShared    *redis.Script
	Refresh          *redis.Script
	Release          *redis.Script
	Flush            *redis.Script
}

// Load reads the embedded .lua sources and compiles them into redis.Script
// values. It never touches the network — compilation is local; the scripts
// are uploaded lazily by go-redis on first EVALSHA/EVAL miss.
func Load() (*Scripts, error) {
	load := func(name string) (*redis.Script, error) {
		data, err := scriptsFS.ReadFile("scripts/" + name)
		if err != nil {
			return nil, errors.Wrapf(err, "read embedded script %q", name)
		}
		return redis.NewScript(string(data)), nil
	}

	acquireExclusive, err := load("acquire_exclusive.lua")
	if err != nil {
		return nil, err
	}
	acquireShared, err := load("acquire_shared.lua")
	if err != nil {
		return nil, err
	}
	refresh, err := load("refresh.lua")
	if err != nil {
		return nil, err
	}
	release, err := load("release.lua")
	if err != nil {
		return nil, err
	}
	flush, err := load("flush.lua")
	if err != nil {
		return nil, err
	}

	return &Scripts{
		AcquireExclusive: acquireExclusive,
		AcquireShared:    acquireShared,
		Refresh:          refresh,
		Release:          release,
		Flush:            flush,
	}, nil
}

// MustLoad is Load, panicking on failure. The embedded scripts are compiled
// into the binary, so a failure here indicates a build defect, not a
// runtime condition — callers use it from init-time wiring only.
func MustLoad() *Scripts {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

// Run evaluates script against client with the given keys/args and decodes
// the tagged reply. It surfaces transport errors unwrapped (aside from
// stack context) and returns an error if the script returned something
// that isn't one of the three known tags.
func Run(ctx context.Context, client redis.Scripter, script *redis.Script, keys []string, args ...any) (Reply, error) {
	res, err := script.Run(ctx, client, keys, args...).Result()
	if err != nil {
		return "", errors.WithStack(err)
	}

	values, ok := res.([]any)
	if !ok || len(values) == 0 {
		return "", fmt.Errorf("protocol: unexpected script reply %#v", res)
	}

	tag, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("protocol: unexpected reply tag %#v", values[0])
	}

	switch Reply(tag) {
	case ReplyOK, ReplyBlocked, ReplyExpired:
		return Reply(tag), nil
	default:
		return "", fmt.Errorf("protocol: unknown reply tag %q", tag)
	}
}
