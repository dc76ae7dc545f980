package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	wrapped := fmt.Errorf("post message: %w", ErrRecipientKeyRevoked)

	assert.Equal(t, "RecipientKeyRevoked", Code(wrapped))
	assert.True(t, errors.Is(wrapped, ErrRecipientKeyRevoked))
	assert.Equal(t, "post message: recipient's messaging key has been revoked", wrapped.Error())
	assert.Empty(t, Code(ErrRecordNotFound))
	assert.Empty(t, Code(nil))
}

func TestBusinessErrorsAreDistinct(t *testing.T) {
	all := []*Error{
		ErrUnauthorizedKeyUpdate,
		ErrUnauthorizedKeyRevoke,
		ErrCidTooLong,
		ErrInvalidTTL,
		ErrRecipientKeyRevoked,
		ErrKeyAlreadyRevoked,
		ErrInvalidRecipient,
		ErrUnauthorizedMessageAccess,
	}
	codes := map[string]bool{}
	for _, e := range all {
		assert.False(t, codes[e.Code], "duplicate code %s", e.Code)
		codes[e.Code] = true
		for _, other := range all {
			if other != e {
				assert.False(t, errors.Is(e, other), "%s matches %s", e.Code, other.Code)
			}
		}
	}
}
