package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/radianceaesthetics/ops_backend/config"
	"github.com/bsm/redislock"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "US"

// NormalizePhoneNumber parses a raw phone string and returns it in E.164
// form. Reports false when the number does not validate for the country.
func NormalizePhoneNumber(phoneNumber string) (string, bool) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return "", false
	}
	p, err := libphonenumber.Parse(phoneNumber, CountryCode)
	if err != nil {
		return "", false
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", false
	}
	return libphonenumber.Format(p, libphonenumber.E164), true
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	out := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ChunkSlice splits a slice into consecutive chunks of at most size elements.
func ChunkSlice[T any](slice []T, size int) [][]T {
	if size <= 0 || len(slice) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(slice)+size-1)/size)
	for start := 0; start < len(slice); start += size {
		end := start + size
		if end > len(slice) {
			end = len(slice)
		}
		chunks = append(chunks, slice[start:end])
	}
	return chunks
}

func ConvertToLocalTime(utcTime time.Time, timezone string) time.Time {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return utcTime
	}
	return utcTime.In(location)
}

func NilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// JobLock obtains a short redis lock for the named job. The returned release
// function is safe to defer; a nil error means the lock is held.
func JobLock(ctx context.Context, jobName string, ttl time.Duration, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", jobName, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("sync:%s", jobName)
	lock, err := locker.Obtain(ctx, lockKey, ttl, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain job lock", jobName, err)
		return nil, err
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining job lock", jobName, err)
		return nil, err
	}
	release := func() {
		_ = lock.Release(context.Background())
	}
	return release, nil
}
