package backend

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessagesPerCode(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{404, "user bob cannot be found on github"},
		{401, "user bob cannot be accessed on github: unauthorized access"},
		{403, "user bob cannot be accessed on github: access forbidden"},
		{500, "user bob cannot be accessed because github encountered an internal error: (no more info)"},
		{400, "user bob cannot be accessed on github: Bad Request"},
	}
	for _, c := range cases {
		err := MakeError("github", c.code, "user bob", "")
		assert.Equal(t, c.want, err.Error(), "code %d", c.code)
	}
}

func TestErrorMessageKeepsProviderDetail(t *testing.T) {
	err := MakeError("github", 403, "user bob", "API rate limit reached")
	assert.Equal(t, "user bob cannot be accessed on github: API rate limit reached", err.Error())
}

func TestCodeOfUnwrapsChains(t *testing.T) {
	base := MakeError("github", 404, "repository a/b", "")
	wrapped := fmt.Errorf("fetching: %w", base)

	assert.Equal(t, 404, CodeOf(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsUnauthorized(wrapped))
	assert.False(t, IsForbidden(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, 0, CodeOf(fmt.Errorf("connection refused")))
	assert.Equal(t, 0, CodeOf(nil))
}
