package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyPadsToFourDigits(t *testing.T) {
	assert.Equal(t, "user:alice:0007", DeriveKey(RoleUser, "alice", 7))
	assert.Equal(t, "sudo:root:0000", DeriveKey(RoleSudo, "root", 0))
	assert.Equal(t, "user:bob:12345", DeriveKey(RoleUser, "bob", 12345))
}

func TestParseKeyRoundTrip(t *testing.T) {
	for _, id := range []int{0, 7, 999, 9999, 10000, 123456} {
		key := DeriveKey(RoleUser, "alice", id)
		parsed, err := ParseKey(key)
		require.NoError(t, err, key)
		assert.Equal(t, RecordKey{Role: RoleUser, Name: "alice", ID: id}, parsed)
		assert.Equal(t, key, parsed.String())
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"non numeric id":    "user:alice:abcd",
		"missing id":        "user:alice",
		"extra segment":     "user:al:ice:0001",
		"unknown role":      "admin:alice:0001",
		"empty name":        "user::0001",
		"short padding":     "user:alice:1",
		"negative id":       "user:alice:-001",
		"explicit sign":     "user:alice:+001",
		"empty":             "",
		"operating info":    OperatingInfoKey,
		"trailing space id": "user:alice:0001 ",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseKey(key)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedKey))
			assert.Equal(t, KindMalformedKey, KindOf(err))
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("alice"))

	err := ValidateName("   ")
	require.Error(t, err)
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnprocessable, e.Kind)
	assert.Equal(t, "user_name", e.Field)

	assert.ErrorIs(t, ValidateName("a:b"), ErrUnprocessable)
}

func TestOperatingInfoNextID(t *testing.T) {
	info := NewOperatingInfo()
	assert.Equal(t, 0, info.NextID(RoleUser))
	assert.Equal(t, 0, info.NextID(RoleSudo))

	latest := 4
	info.LatestRecordID = &latest
	assert.Equal(t, 5, info.NextID(RoleUser))
	assert.Equal(t, 0, info.NextID(RoleSudo))
}

func TestErrorKindsCompareByKind(t *testing.T) {
	err := NotFound("user:alice:0001")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.NotErrorIs(t, err, ErrMalformedKey)

	cause := errors.New("database is locked")
	wrapped := StoreUnavailable(cause)
	assert.ErrorIs(t, wrapped, ErrStoreUnavailable)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "database is locked")
}

func TestTaskStateOpen(t *testing.T) {
	assert.True(t, StateBegin.Open())
	assert.True(t, StateBreak.Open())
	assert.True(t, StateBack.Open())
	assert.False(t, StateIdle.Open())
	assert.False(t, StateEnd.Open())
}
