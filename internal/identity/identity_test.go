package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	v := NewVerifier("s3cret")

	token, err := v.Issue(Requester{ID: "doc-1", Role: RoleDoctor}, time.Minute)
	require.NoError(t, err)

	got, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)
	assert.True(t, got.Is(RoleDoctor, RoleAdmin))
	assert.False(t, got.Is(RolePatient))
}

func TestParseRejects(t *testing.T) {
	v := NewVerifier("s3cret")

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewVerifier("other").Issue(Requester{ID: "p1", Role: RolePatient}, time.Minute)
		require.NoError(t, err)
		_, err = v.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := v.Issue(Requester{ID: "p1", Role: RolePatient}, -time.Minute)
		require.NoError(t, err)
		_, err = v.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithRequester(context.Background(), Requester{ID: "p1", Role: RolePatient})
	r, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "p1", r.ID)
}
