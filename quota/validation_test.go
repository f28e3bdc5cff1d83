package quota

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"100ms", 100 * time.Millisecond},
		{"1h30m", 90 * time.Minute},
		{"10s", 10 * time.Second},
		{"1d", 24 * time.Hour},
		{"2 days", 48 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"1 week", 7 * 24 * time.Hour},
		{"1y", time.Duration(365.25 * 24 * float64(time.Hour))},
		{"1.5h", 90 * time.Minute},
		{"5 Minutes", 5 * time.Minute},
		{"500", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePeriod(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "  ", "month", "-1d", "0s", "10µs", "1 fortnight"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := ParsePeriod(bad)
			assert.ErrorIs(t, err, ErrPlanInvalidPeriod)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", errPlanInvalidLimit())

	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, ErrPlanInvalidLimit)
	assert.NotErrorIs(t, err, ErrPlanInvalidPeriod)
	assert.NotErrorIs(t, err, ErrPlanNotFound)

	var qe *Error
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "plan_invalid_limit", qe.Code)
	assert.Equal(t, "The argument `limit` must be a positive number.", qe.Message)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "The key `abc` does not exist.", errKeyNotFound("abc").Error())
	assert.Equal(t, "The plan `free` does not exist.", errPlanNotFound("free").Error())
	assert.Equal(t, "The plan `free` is associated with the key `abc`.", errPlanInUse("free", "abc").Error())
	assert.Equal(t, "The metadata field 'tier' can't be an object.", errMetadataInvalid("tier").Error())
}

func TestCheckMetadata(t *testing.T) {
	md, err := checkMetadata(Metadata{"tier": "free", "empty": "", "gone": nil, "n": 3, "tags": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, Metadata{"tier": "free", "n": 3, "tags": []string{"a", "b"}}, md)

	md, err = checkMetadata(Metadata{"gone": nil})
	require.NoError(t, err)
	assert.Nil(t, md)

	_, err = checkMetadata(Metadata{"nested": map[string]any{"a": 1}})
	assert.ErrorIs(t, err, ErrMetadataInvalid)
	assert.Contains(t, err.Error(), "'nested'")

	_, err = checkMetadata(Metadata{"obj": struct{ A int }{1}})
	assert.ErrorIs(t, err, ErrMetadataInvalid)

	_, err = checkMetadata(Metadata{"list": []any{"ok", map[string]any{"a": 1}}})
	assert.ErrorIs(t, err, ErrMetadataInvalid)
	assert.Contains(t, err.Error(), "'list.1'")
}

func TestMergeMetadata(t *testing.T) {
	base := Metadata{"tier": "free", "region": "eu"}

	md, err := mergeMetadata(base, Metadata{"region": "", "seats": 5})
	require.NoError(t, err)
	assert.Equal(t, Metadata{"tier": "free", "seats": 5}, md)
	assert.Equal(t, Metadata{"tier": "free", "region": "eu"}, base, "base must not be mutated")

	md, err = mergeMetadata(base, Metadata{"tier": nil, "region": nil})
	require.NoError(t, err)
	assert.Nil(t, md)

	_, err = mergeMetadata(base, Metadata{"x": map[string]string{}})
	assert.ErrorIs(t, err, ErrMetadataInvalid)
}

func TestRandomToken(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		tok, err := randomToken(tokenSize)
		require.NoError(t, err)
		require.Len(t, tok, tokenSize)
		for _, c := range tok {
			assert.Contains(t, base58Alphabet, string(c))
		}
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}
