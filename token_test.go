package contentdrop

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTokenGeneratorRejectsShortLengths(t *testing.T) {
	for _, length := range []int{-1, 0, 1} {
		_, err := NewTokenGenerator(length)
		require.Error(t, err, "length %d", length)
	}

	g, err := NewTokenGenerator(2)
	require.NoError(t, err)
	require.Equal(t, 2, g.Length())
}

func TestGenerateShape(t *testing.T) {
	g, err := NewTokenGenerator(7)
	require.NoError(t, err)

	shape := regexp.MustCompile(`^[a-zA-Z0-9]{7}$`)
	for i := 0; i < 1000; i++ {
		token := g.Generate()
		require.True(t, shape.MatchString(token), "token %q", token)
		require.False(t, InvalidTokenPattern.MatchString(token))
	}
}

func TestGenerateIsNotConstant(t *testing.T) {
	g, err := NewTokenGenerator(16)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seen[g.Generate()] = true
	}
	require.Len(t, seen, 100)
}
