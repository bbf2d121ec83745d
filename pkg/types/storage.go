// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"errors"
	"io"
)

// StorageType identifies the media object store implementation
type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMemory StorageType = "memory"
)

// ErrObjectNotFound is returned by BlobStore reads for missing keys.
var ErrObjectNotFound = errors.New("media object not found")

// BlobStore holds the media objects segments point at. Keys are object ids.
type BlobStore interface {
	Type() StorageType

	Write(ctx context.Context, key string, data io.Reader, size int64) error
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	Close() error
}

// BackendConfig contains configuration for creating a blob store instance
type BackendConfig struct {
	ID        string            `json:"id" mapstructure:"id"`
	Type      StorageType       `json:"type" mapstructure:"type"`
	Endpoint  string            `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Bucket    string            `json:"bucket,omitempty" mapstructure:"bucket"`
	Region    string            `json:"region,omitempty" mapstructure:"region"`
	AccessKey string            `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string            `json:"secret_key,omitempty" mapstructure:"secret_key"`
	Options   map[string]string `json:"options,omitempty" mapstructure:"options"`
}
