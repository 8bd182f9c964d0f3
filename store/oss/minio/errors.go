package minio

import (
	"fmt"

	"github.com/kochabx/vidchat/errors"
)

var (
	ErrInvalidConfig   = errors.New(500, "invalid object storage configuration")
	ErrEmptyBucketName = errors.New(500, "bucket name cannot be empty")
	ErrEmptyObjectName = errors.New(400, "object name cannot be empty")
	ErrBucketNotFound  = errors.New(503, "bucket not found")
)

// ObjectError 对象操作错误
type ObjectError struct {
	Bucket    string
	Object    string
	Operation string
	Err       error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("object operation failed: op=%s, bucket=%s, object=%s, error=%v",
		e.Operation, e.Bucket, e.Object, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}
