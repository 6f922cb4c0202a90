package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		notFound   bool
		validation bool
		storage    bool
		conflict   bool
	}{
		{name: "nil", err: nil},
		{name: "not found wrapped", err: errors.Wrap(ErrNotFound, "get integration"), notFound: true},
		{name: "validation", err: Required("api_key"), validation: true},
		{name: "validation wrapped", err: errors.Wrap(Required("guild_id"), "create"), validation: true},
		{name: "storage", err: &StorageError{Op: "insert", Err: errors.New("connection refused")}, storage: true},
		{name: "storage around conflict", err: &StorageError{Op: "insert", Err: ErrConflict}, storage: true, conflict: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.notFound, IsNotFound(tc.err))
			assert.Equal(t, tc.validation, IsValidation(tc.err))
			assert.Equal(t, tc.storage, IsStorage(tc.err))
			assert.Equal(t, tc.conflict, IsConflict(tc.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "invalid api_key: is required", Required("api_key").Error())
	assert.Equal(t, "storage: ping: timeout", (&StorageError{Op: "ping", Err: errors.New("timeout")}).Error())
}
