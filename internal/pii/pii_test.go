package pii

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/travel-reservation/internal/model"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

func TestSealRoundTripAndMask(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	p := model.Passenger{FirstName: "Jane", LastName: "Doe", DocumentNumber: "X1234567", DateOfBirth: "1990-04-01"}
	blob, masked, err := s.Seal("li-1", p)
	require.NoError(t, err)
	assert.Equal(t, "J*** D***, doc ****4567", masked)
	assert.NotContains(t, string(blob), "Jane")

	got, err := s.Open("li-1", blob)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestOpenRejectsOtherReference(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	blob, _, err := s.Seal("li-1", model.Passenger{FirstName: "A", LastName: "B", DocumentNumber: "12345"})
	require.NoError(t, err)

	_, err = s.Open("li-2", blob)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = s.Open("li-1", blob[:10])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewSealerHexRejectsShortKey(t *testing.T) {
	_, err := NewSealerHex("abcd")
	assert.Error(t, err)
}
