package security

import (
	"strings"
	"testing"

	"github.com/jdziat/loaded-handler/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHandlerName(t *testing.T) {
	require.NoError(t, ValidateHandlerName("image-resizer"))
	require.NoError(t, ValidateHandlerName("a"))

	err := ValidateHandlerName("")
	assert.ErrorIs(t, err, core.ErrInvalidHandlerName)

	err = ValidateHandlerName("1-starts-with-digit")
	assert.ErrorIs(t, err, core.ErrInvalidHandlerName)

	err = ValidateHandlerName(strings.Repeat("a", MaxHandlerNameLength+1))
	assert.ErrorIs(t, err, core.ErrInvalidHandlerName)
}

func TestValidateJobName(t *testing.T) {
	require.NoError(t, ValidateJobName("Nightly.Report"))
	assert.ErrorIs(t, ValidateJobName(""), core.ErrInvalidJobName)
	assert.ErrorIs(t, ValidateJobName("!bad"), core.ErrInvalidJobName)
}

func TestValidateJobInput(t *testing.T) {
	require.NoError(t, ValidateJobInput(make([]byte, MaxJobInputSize)))
	assert.ErrorIs(t, ValidateJobInput(make([]byte, MaxJobInputSize+1)), core.ErrJobInputTooLarge)
}

func TestSanitizeMessage(t *testing.T) {
	assert.Equal(t, "", SanitizeMessage(""))
	assert.Equal(t, "clean", SanitizeMessage("clean"))

	withControl := "a\x00b\x01c"
	assert.Equal(t, "abc", SanitizeMessage(withControl))

	long := strings.Repeat("x", MaxErrorMessageLength+50)
	got := SanitizeMessage(long)
	assert.Len(t, got, MaxErrorMessageLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestClampMaxJobAttempts(t *testing.T) {
	assert.Equal(t, 0, ClampMaxJobAttempts(0))
	assert.Equal(t, 0, ClampMaxJobAttempts(-5))
	assert.Equal(t, 5, ClampMaxJobAttempts(5))
	assert.Equal(t, MaxJobAttempts, ClampMaxJobAttempts(MaxJobAttempts+500))
}
