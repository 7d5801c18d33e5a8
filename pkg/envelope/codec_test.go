package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeJSONLines_SkipsEmptyAndKeepsPartial(t *testing.T) {
	buf := []byte("\n{\"kind\":\"auth\",\"token\":\"t\"}\n{\"kind\":\"pty.input\"")
	result := ConsumeJSONLines(buf)

	require.Len(t, result.Messages, 1)
	assert.Equal(t, KindAuth, result.Messages[0].Kind)
	assert.Equal(t, "t", result.Messages[0].Token)
	assert.Equal(t, []byte("{\"kind\":\"pty.input\""), result.Remainder)
}

func TestConsumeJSONLines_DropsMalformedAndUnknownKinds(t *testing.T) {
	buf := []byte("not json at all\n{\"kind\":\"bogus.kind\"}\n{\"kind\":\"auth\",\"token\":\"ok\"}\n")
	result := ConsumeJSONLines(buf)

	require.Len(t, result.Messages, 1)
	assert.Equal(t, "ok", result.Messages[0].Token)
	assert.Empty(t, result.Remainder)
}

func TestEncodeParseRoundTrip(t *testing.T) {
	original := Envelope{
		Kind:      KindPTYOutput,
		SessionID: "s1",
		Cursor:    42,
		ChunkB64:  "QUFBQQ==",
	}

	line, err := Encode(original)
	require.NoError(t, err)

	result := ConsumeJSONLines(line)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, original, result.Messages[0])
	assert.Empty(t, result.Remainder)
}

func TestConsumeJSONLines_MultipleLinesInOneBuffer(t *testing.T) {
	lines := ""
	for i := 0; i < 5; i++ {
		env := Envelope{Kind: KindPTYInput, SessionID: "s"}
		b, err := Encode(env)
		require.NoError(t, err)
		lines += string(b)
	}

	result := ConsumeJSONLines([]byte(lines))
	assert.Len(t, result.Messages, 5)
	assert.Empty(t, result.Remainder)
}
