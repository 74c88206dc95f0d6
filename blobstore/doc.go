// Package blobstore abstracts snapshot blob storage behind a small
// Store interface with local filesystem and in-memory implementations.
// The s3 and minio subpackages provide object-storage backends.
package blobstore
