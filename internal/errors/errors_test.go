package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutableErrorsMentionUnableToFind(t *testing.T) {
	assert.Contains(t, ExecutableNotFound("/tmp/missing-gdb").Error(), "Unable to find")
	assert.Contains(t, ExecutableNotFound("").Error(), "Unable to find")

	err := NotExecutable("/tmp/file.txt", stderrors.New("permission denied"))
	assert.Contains(t, err.Error(), "Unable to find")
	assert.Contains(t, err.Error(), "access")
}

func TestCategoriesSeparateEnvironmentFromTarget(t *testing.T) {
	assert.Equal(t, CategoryEnvironment, ExecutableNotFound("x").Category())
	assert.Equal(t, CategoryEnvironment, UnsupportedPlatform("darwin").Category())
	assert.Equal(t, CategoryTarget, CommandFailed("d", "t", 0, stderrors.New("boom")).Category())
	assert.Equal(t, CategoryTarget, BackendExited(nil).Category())
	assert.Equal(t, CategoryClient, StaleReference(3, 1, 2).Category())
	assert.Equal(t, CategoryTarget, (&DebugError{Code: "SOMETHING_ELSE"}).Category())
}

func TestErrorIncludesHint(t *testing.T) {
	err := StaleReference(7, 1, 2)
	assert.Equal(t, "variable reference 7 is stale | Hint: Refetch the scope chain and retry.", err.Error())
}

func TestIsAndFromErrorUnwrapChains(t *testing.T) {
	base := WriteRejected("x", "abc", stderrors.New("Invalid cast."))
	wrapped := fmt.Errorf("setVariable: %w", base)

	assert.True(t, Is(wrapped, CodeWriteRejected))
	assert.False(t, Is(wrapped, CodeStaleReference))

	de := FromError(wrapped)
	require.Same(t, base, de)

	generic := FromError(stderrors.New("plain"))
	assert.Equal(t, ErrorCode("UNKNOWN_ERROR"), generic.Code)
}

func TestCommandFailedDetails(t *testing.T) {
	cause := stderrors.New(`Undefined command: "invalid-gdb-command"`)
	err := CommandFailed("This will fail", "invalid-gdb-command", 1, cause)

	assert.Contains(t, err.Error(), "This will fail")
	assert.Equal(t, 1, err.Details["index"])
	assert.ErrorIs(t, err, cause)
}

func TestIDsAreUniquePerCode(t *testing.T) {
	seen := make(map[int]ErrorCode)
	for code := range categories {
		id := ID(code)
		require.NotEqual(t, 9999, id, code)
		if prev, ok := seen[id]; ok {
			t.Fatalf("%s and %s share id %d", prev, code, id)
		}
		seen[id] = code
	}
	assert.Equal(t, 9999, ID("UNKNOWN_ERROR"))
}
