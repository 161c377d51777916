package migration

import (
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()

	valid := []struct {
		in  string
		out Version
	}{
		{in: "1596897167123", out: 1596897167123},
		{in: "1000", out: 1000},
		{in: "0", out: 0},
		{in: "0001000", out: 1000},
	}

	invalid := []string{
		"",
		"-1000",
		"+1000",
		"15968V97167",
		"M1596897167",
		"12345678901234",
		"1000 ",
		"1000_foo",
	}

	for _, tc := range valid {
		tc := tc
		t.Run("valid-"+tc.in, func(t *testing.T) {
			v, err := ParseVersion(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.out, v)
		})
	}

	for _, in := range invalid {
		in := in
		t.Run("invalid-"+in, func(t *testing.T) {
			_, err := ParseVersion(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedVersion))
		})
	}
}

func TestGenerator(t *testing.T) {
	t.Run("it uses the millisecond epoch of the clock", func(t *testing.T) {
		now := time.Date(2020, 8, 8, 14, 32, 47, 123_000_000, time.UTC)
		g := NewGenerator(func() time.Time { return now })

		v := g.Next()
		assert.Equal(t, Version(now.UnixMilli()), v)
		assert.Len(t, v.String(), MaxVersionWidth)
	})

	t.Run("two versions generated in the same millisecond are never equal", func(t *testing.T) {
		now := time.Date(2020, 8, 8, 14, 32, 47, 0, time.UTC)
		g := NewGenerator(func() time.Time { return now })

		v1 := g.Next()
		v2 := g.Next()
		v3 := g.Next()

		assert.Less(t, int64(v1), int64(v2))
		assert.Less(t, int64(v2), int64(v3))
	})

	t.Run("it stays monotonic when the clock goes backwards", func(t *testing.T) {
		times := []time.Time{
			time.Date(2020, 8, 8, 14, 32, 47, 0, time.UTC),
			time.Date(2020, 8, 8, 14, 30, 0, 0, time.UTC),
		}
		i := 0
		g := NewGenerator(func() time.Time {
			tm := times[i]
			i++
			return tm
		})

		v1 := g.Next()
		v2 := g.Next()
		assert.Equal(t, v1+1, v2)
	})

	t.Run("the default generator is monotonic", func(t *testing.T) {
		prev := GenerateVersion()
		for i := 0; i < 100; i++ {
			next := GenerateVersion()
			require.Greater(t, int64(next), int64(prev))
			prev = next
		}
	})
}
