package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, expires, err := svc.Generate("lms-backend")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "lms-backend", claims.Service)
	assert.Equal(t, "lms-backend", claims.Subject)
}

func TestJWTService_RejectsOtherSecret(t *testing.T) {
	token, _, err := NewJWTService("one", 1).Generate("svc")
	require.NoError(t, err)

	_, err = NewJWTService("two", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Expired(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, _, err := svc.Generate("svc")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Disabled(t *testing.T) {
	svc := NewJWTService("", 1)
	assert.False(t, svc.Enabled())

	_, _, err := svc.Generate("svc")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = svc.Validate("anything")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestCheckAPIKey(t *testing.T) {
	assert.NoError(t, CheckAPIKey("k", "k"))
	assert.ErrorIs(t, CheckAPIKey("k", "x"), ErrInvalidAPIKey)
	assert.ErrorIs(t, CheckAPIKey("k", ""), ErrInvalidAPIKey)
	assert.ErrorIs(t, CheckAPIKey("", ""), ErrInvalidAPIKey)
}
