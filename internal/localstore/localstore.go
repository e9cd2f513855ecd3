// Package localstore provides the durable key/value cache the repository and
// the pipeline tracker fall back to when the remote document store is out of
// reach. Values are JSON strings; keys are namespaced by the callers.
package localstore

import (
	"errors"
	"strings"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("localstore: store is closed")

// Storage is a synchronous string key/value store.
type Storage interface {
	// GetItem returns the value stored under key and whether it exists.
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Namespaced prefixes every key with a namespace so several tenants can share
// one underlying store without colliding.
type Namespaced struct {
	inner  Storage
	prefix string
}

// NewNamespaced wraps inner so that all keys live under namespace.
func NewNamespaced(inner Storage, namespace string) *Namespaced {
	ns := strings.TrimSpace(namespace)
	if ns != "" && !strings.HasSuffix(ns, ":") {
		ns += ":"
	}
	return &Namespaced{inner: inner, prefix: ns}
}

func (n *Namespaced) GetItem(key string) (string, bool, error) {
	return n.inner.GetItem(n.prefix + key)
}

func (n *Namespaced) SetItem(key, value string) error {
	return n.inner.SetItem(n.prefix+key, value)
}

func (n *Namespaced) RemoveItem(key string) error {
	return n.inner.RemoveItem(n.prefix + key)
}
