package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs tag-based validation on an input struct and flattens
// the field errors into one message.
func ValidateStruct(input interface{}) error {
	if err := validate.Struct(input); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := ProcessValidationErrors(validationErrors)
			parts := make([]string, 0, len(fields))
			for field, tag := range fields {
				parts = append(parts, field+" "+tag)
			}
			return errors.New("invalid input: " + strings.Join(parts, ", "))
		}
		return err
	}
	return nil
}

func ProcessValidationErrors(validationErrors validator.ValidationErrors) map[string]string {
	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

// returns slice removing duplicate elements
func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

// WithLeaderLock runs fn only when the redis lock for name could be obtained.
// Used by scheduled scans so that exactly one instance performs the work.
func WithLeaderLock(ctx context.Context, name string, ttl time.Duration, moduleName string, funcName string, fn func() error) error {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, funcName, "Redis lock not initialized", name, errors.New("redis lock is nil"))
		return errors.New("service not ready (redis lock not initialized)")
	}

	lockKey := fmt.Sprintf("leader:%s", name)
	lock, err := locker.Obtain(ctx, lockKey, ttl, nil)
	if err == redislock.ErrNotObtained {
		// Another instance holds the lock; skip silently.
		return nil
	} else if err != nil {
		config.LogError(logger, moduleName, funcName, "Error obtaining leader lock", name, err)
		return err
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	return fn()
}
