// Package s3 implements blobstore.Store on Amazon S3, with an
// optional DynamoDB-backed commit log for coordinating concurrent
// snapshot publishers.
package s3
