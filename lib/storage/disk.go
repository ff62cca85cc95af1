package storage

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/peterbourgon/diskv/v3"
)

const (
	// cacheSizeMaxBytes max memory cache
	cacheSizeMaxBytes = 64 * 1024
)

// DiskStore persists keys as files in a single directory.
//
// NB: racy across processes, there's no file locking. Two processes writing
// the same key end up with whichever write landed last.
type DiskStore struct {
	// dv is a diskv instance
	dv *diskv.Diskv
}

// NewDiskStore creates a DiskStore rooted at dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, trace.BadParameter("missing storage directory")
	}

	// Simplest transform function: put all the data files into the base dir.
	flatTransform := func(s string) []string { return []string{} }

	dv := diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    flatTransform,
		CacheSizeMax: cacheSizeMaxBytes,
		FilePerm:     0600,
		PathPerm:     0700,
	})
	return &DiskStore{dv: dv}, nil
}

// Get implements Store.
func (d *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	if !d.dv.Has(key) {
		return nil, trace.NotFound("key %q not found", key)
	}
	value, err := d.dv.Read(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return value, nil
}

// Set implements Store.
func (d *DiskStore) Set(_ context.Context, key string, value []byte) error {
	return trace.Wrap(d.dv.Write(key, value))
}

// Remove implements Store.
func (d *DiskStore) Remove(_ context.Context, key string) error {
	if !d.dv.Has(key) {
		return nil
	}
	return trace.Wrap(d.dv.Erase(key))
}

// EraseAll wipes the whole storage directory.
func (d *DiskStore) EraseAll() error {
	return trace.Wrap(d.dv.EraseAll())
}
