package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code(errutil.CodeDependency).With("email", "alice@example.com").Errorf("postmark down")
	errutil.LogError(logger, "send otp", err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "send otp", entry["msg"])
	assert.Equal(t, errutil.CodeDependency, entry["code"])
	assert.Contains(t, entry["context"], "email")
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry["error"], "standard error")
}

func TestAssertErrorCode(t *testing.T) {
	errutil.AssertErrorCode(t, oops.Code(errutil.CodeConflict).Errorf("redeemed"), errutil.CodeConflict)
}
