package service

import (
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestADE20K_Shape(t *testing.T) {
	require.Equal(t, 150, ADE20K.Len())
	require.Equal(t, RGB{120, 120, 120}, ADE20K[0])
	require.Equal(t, RGB{92, 0, 255}, ADE20K[149])
	require.False(t, ADE20K.Contains(RGB{0, 0, 0}))
}

func TestPalette_Color(t *testing.T) {
	c, err := ADE20K.Color(2)
	require.NoError(t, err)
	require.Equal(t, color.RGBA{R: 6, G: 230, B: 230, A: 255}, c)

	_, err = ADE20K.Color(150)
	require.True(t, errors.Is(err, ErrClassOutOfRange))

	_, err = ADE20K.Color(-1)
	require.True(t, errors.Is(err, ErrClassOutOfRange))
}
