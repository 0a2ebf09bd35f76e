// Package keys loads the tool's PEM-encoded private key from disk.
//
// The default Provider reads the file on every acquisition so that secret
// material is held only for the duration of the call that needs it. A
// WatchingCache is available for deployments where the per-call disk read
// matters; it keeps a bounded set of key texts and drops an entry as soon as
// the underlying file changes.
package keys

import (
	"bytes"
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrKeyAccess and ErrKeyFormat allow errors.Is matching on the two
// failure classes of Load.
var (
	ErrKeyAccess = errors.New("keys: private key not readable")
	ErrKeyFormat = errors.New("keys: no PEM block found")
)

// KeyAccessError reports that the key file could not be opened or read.
type KeyAccessError struct {
	Path string
	Err  error
}

func (e *KeyAccessError) Error() string {
	return fmt.Sprintf("keys: cannot read private key %s: %v", e.Path, e.Err)
}

func (e *KeyAccessError) Unwrap() error { return e.Err }

func (e *KeyAccessError) Is(target error) bool { return target == ErrKeyAccess }

// KeyFormatError reports that the key file contained no PEM block.
type KeyFormatError struct {
	Path string
}

func (e *KeyFormatError) Error() string {
	return fmt.Sprintf("keys: invalid pem file %s", e.Path)
}

func (e *KeyFormatError) Is(target error) bool { return target == ErrKeyFormat }

var beginMarker = []byte("-----BEGIN ")

// Load reads path and returns the text of its first PEM block exactly as it
// appears in the file, from the BEGIN line through the END line and its line
// terminator. Any further blocks are ignored.
func Load(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", &KeyAccessError{Path: path, Err: err}
	}
	defer clear(raw)

	text, ok := firstBlock(raw)
	if !ok {
		return "", &KeyFormatError{Path: path}
	}
	return text, nil
}

// firstBlock locates the first well-formed PEM block in raw and returns its
// original bytes.
func firstBlock(raw []byte) (string, bool) {
	block, rest := pem.Decode(raw)
	if block == nil {
		return "", false
	}
	consumed := raw[:len(raw)-len(rest)]
	// pem.Decode skips garbage and malformed blocks before the one it
	// returns; the last BEGIN marker in the consumed span starts our block.
	start := bytes.LastIndex(consumed, beginMarker)
	if start < 0 {
		return "", false
	}
	return string(consumed[start:]), true
}

// Lease is a scoped hold on private key text. Callers must Release it once
// the key is no longer needed.
//
// Release drops the lease's reference to the text. Go strings are immutable,
// so copies already made (the PEM decoder's, the parsed key) are left to the
// garbage collector and are not wiped.
type Lease struct {
	text     string
	released bool
}

// Text returns the PEM text held by the lease. It is empty after Release.
func (l *Lease) Text() string { return l.text }

// Released reports whether Release has been called.
func (l *Lease) Released() bool { return l != nil && l.released }

// Release ends the lease. It is safe to call more than once.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.text = ""
	l.released = true
}

// Provider hands out private key text for a path.
type Provider interface {
	Acquire(ctx context.Context, path string) (*Lease, error)
}

// DiskProvider reads the key from disk on every Acquire.
type DiskProvider struct{}

var _ Provider = DiskProvider{}

func (DiskProvider) Acquire(ctx context.Context, path string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Lease{text: text}, nil
}

// With acquires the key at path from p, calls fn with its text and releases
// the lease before returning.
func With(ctx context.Context, p Provider, path string, fn func(keyText string) error) error {
	if p == nil {
		p = DiskProvider{}
	}
	lease, err := p.Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Text())
}
