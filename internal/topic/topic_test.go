// ABOUTME: Tests for the room topic codec
// ABOUTME: Covers round-trips, the 800 character cap and sentinel detection

package topic

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []Binding{
		{ConversationID: "c0ffee", OwnerID: "@alice:example.org"},
		{ConversationID: "", OwnerID: ""},
		{ConversationID: `quote"and\backslash`, OwnerID: "ünïcødé"},
		{ConversationID: strings.Repeat("a", 300), OwnerID: strings.Repeat("b", 300)},
	}

	for _, b := range cases {
		encoded, err := Encode(b)
		require.NoError(t, err)

		got, ok := Decode(encoded)
		require.True(t, ok)
		assert.Equal(t, b, got)
	}
}

func TestDecode_WithHumanPrefix(t *testing.T) {
	b := Binding{ConversationID: "conv-1", OwnerID: "@bob:example.org"}
	full, err := Compose("Support request", b)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(full, "Support request\n\n"))

	got, ok := Decode(full)
	require.True(t, ok)
	assert.Equal(t, b, got)
}

func TestDecode_NoSentinel(t *testing.T) {
	for _, raw := range []string{
		"",
		"just a regular room",
		`["conv","owner"]`,
		strings.Repeat("‎", 4) + `["conv","owner"]`,
	} {
		assert.NotPanics(t, func() {
			_, ok := Decode(raw)
			assert.False(t, ok, "topic %q should not be bridge-managed", raw)
		})
	}
}

func TestDecode_MalformedPayloadPanics(t *testing.T) {
	assert.Panics(t, func() { Decode(Sentinel + "not json") })
	assert.Panics(t, func() { Decode(Sentinel + `["only-one"]`) })
}

func TestEncode_Oversize(t *testing.T) {
	// sentinel (5) + `["` + id + `","` + `"]` around an empty owner = 5 + 7 + len(id)
	overhead := len(Sentinel)/len("‎") + len(`["`) + len(`",""]`)

	atLimit := Binding{ConversationID: strings.Repeat("x", MaxLength-overhead)}
	encoded, err := Encode(atLimit)
	require.NoError(t, err)
	assert.Equal(t, MaxLength, len([]rune(encoded)))

	overLimit := Binding{ConversationID: strings.Repeat("x", MaxLength-overhead+1)}
	_, err = Encode(overLimit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))

	// Deterministic: the same input fails the same way every time.
	_, again := Encode(overLimit)
	assert.Equal(t, err.Error(), again.Error())
}

func TestEncode_CountsCharactersNotBytes(t *testing.T) {
	// Multi-byte runes count once each toward the limit.
	b := Binding{ConversationID: strings.Repeat("é", 700)}
	_, err := Encode(b)
	assert.NoError(t, err)
}

func TestCompose_EmptyPrefix(t *testing.T) {
	b := Binding{ConversationID: "c", OwnerID: "o"}
	full, err := Compose("", b)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full, Sentinel))
}

func TestEncode_HTMLCharactersCountOnce(t *testing.T) {
	encoded, err := Encode(Binding{ConversationID: "a<b>&c", OwnerID: "@alice:example.org"})
	require.NoError(t, err)
	assert.Contains(t, encoded, `"a<b>&c"`)
	assert.False(t, strings.HasSuffix(encoded, "\n"))

	// Sentinel (5) + `["` + `",""]` (7) leaves exactly 788 characters.
	_, err = Encode(Binding{ConversationID: strings.Repeat("<", 788)})
	require.NoError(t, err)
	_, err = Encode(Binding{ConversationID: strings.Repeat("<", 789)})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
