package channel

import (
	"errors"
	"math"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterKeepsOrderAndColors(t *testing.T) {
	reg := NewRegistry("actuators", NewPalette(12))
	require.NoError(t, reg.Register("Act 1", "%", Float, ""))
	require.NoError(t, reg.Register("Act 2", "V", Int, "#ABC123"))
	require.NoError(t, reg.Register("Act 3", "", Bool, ""))

	chans := reg.Channels()
	require.Len(t, chans, 3)
	assert.Equal(t, []string{"Act 1", "Act 2", "Act 3"}, []string{chans[0].Name, chans[1].Name, chans[2].Name})
	assert.Equal(t, "#ABC123", chans[1].Color)

	hex := regexp.MustCompile(`^#[0-9a-f]{6}$`)
	assert.Regexp(t, hex, chans[0].Color)
	assert.Regexp(t, hex, chans[2].Color)
	assert.NotEqual(t, chans[0].Color, chans[2].Color)

	for _, c := range chans {
		assert.Zero(t, c.Value)
	}
}

func TestRegisterRejectsDuplicatesAndSealed(t *testing.T) {
	reg := NewRegistry("sensors", nil)
	require.NoError(t, reg.Register("S1", "ºC", Float, ""))

	err := reg.Register("S1", "ºC", Float, "")
	assert.True(t, errors.Is(err, ErrDuplicate))

	reg.Seal()
	assert.ErrorIs(t, reg.Register("S2", "V", Float, ""), ErrSealed)
	assert.Equal(t, 1, reg.Len())
}

func TestUpdate(t *testing.T) {
	reg := NewRegistry("actuators", nil)
	require.NoError(t, reg.Register("A1", "%", Float, ""))
	require.NoError(t, reg.Register("A2", "V", Int, ""))
	require.NoError(t, reg.Register("A3", "", Bool, ""))

	require.NoError(t, reg.Update([]float64{1.23, 6.7, 0.5}))
	assert.Equal(t, []float64{1.23, 7, 1}, reg.Values())

	a2, ok := reg.Get("A2")
	require.True(t, ok)
	assert.Equal(t, int64(7), a2.Typed())
	a3, _ := reg.Get("A3")
	assert.Equal(t, true, a3.Typed())
}

func TestUpdateSizeMismatch(t *testing.T) {
	reg := NewRegistry("sensors", nil)
	require.NoError(t, reg.Register("S1", "", Float, ""))
	require.NoError(t, reg.Register("S2", "", Float, ""))
	require.NoError(t, reg.Update([]float64{1, 2}))

	err := reg.Update([]float64{3})
	var sizeErr *SizeError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, 2, sizeErr.Want)
	assert.Equal(t, 1, sizeErr.Got)
	assert.Equal(t, []float64{1, 2}, reg.Values(), "failed update must not change values")
}

func TestUpdateTypeErrorIsAllOrNothing(t *testing.T) {
	reg := NewRegistry("sensors", nil)
	require.NoError(t, reg.Register("S1", "", Float, ""))
	require.NoError(t, reg.Register("S2", "", Int, ""))

	err := reg.Update([]float64{5, math.NaN()})
	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "S2", typeErr.Channel)
	assert.Contains(t, err.Error(), "int")
	assert.Equal(t, []float64{0, 0}, reg.Values())
}

func TestUpdateRejectsNonFiniteFloats(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		reg := NewRegistry("sensors", nil)
		require.NoError(t, reg.Register("T1", "°C", Float, ""))
		require.NoError(t, reg.Register("T2", "°C", Float, ""))
		require.NoError(t, reg.Update([]float64{21, 22}))

		err := reg.Update([]float64{23, bad})
		var typeErr *TypeError
		require.ErrorAs(t, err, &typeErr, "value %v", bad)
		assert.Equal(t, "T2", typeErr.Channel)
		assert.Equal(t, []float64{21, 22}, reg.Values())
	}
}

func TestValuesIsACopy(t *testing.T) {
	reg := NewRegistry("sensors", nil)
	require.NoError(t, reg.Register("S1", "", Float, ""))
	require.NoError(t, reg.Update([]float64{1}))

	v := reg.Values()
	v[0] = 99
	assert.Equal(t, []float64{1}, reg.Values())
}

func TestParseType(t *testing.T) {
	for _, in := range []string{"float", "int", "bool", ""} {
		_, err := ParseType(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseType("string")
	assert.Error(t, err)
}
