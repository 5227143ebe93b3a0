package db

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// ErrorMatcher decides whether an error is worth another attempt.
type ErrorMatcher func(err error) bool

const DefaultMaxRetries = 3

// Try runs op, retrying up to DefaultMaxRetries times while it fails with a
// duplicate _id. Collisions on other unique indexes are returned immediately.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsDuplicateIDError)
}

// WithRetries runs op once plus up to maxRetries retries, as long as each failure
// satisfies retryable. A short incremental backoff separates attempts.
func WithRetries(op Operation, maxRetries int, retryable ErrorMatcher) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == maxRetries || !retryable(err) {
			break
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// IsMongoDuplicateKeyError checks if an error from MongoDB is a duplicate key error (code 11000).
func IsMongoDuplicateKeyError(err error) bool {
	return duplicateKeyMessage(err) != ""
}

// IsDuplicateIDError reports a duplicate key error raised by the _id index.
func IsDuplicateIDError(err error) bool {
	return strings.Contains(duplicateKeyMessage(err), "index: _id_ ")
}

// duplicateKeyMessage returns the message of the first 11000 write error in err, or "".
func duplicateKeyMessage(err error) string {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return e.Message
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == 11000 {
				return e.Message
			}
		}
	}
	return ""
}
