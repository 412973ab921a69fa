package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	l := Component(base, "session")
	l.Info().Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "session", line[FieldComponent])
}

func TestForSessionAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	l := ForSession(base, "abc-123")
	l.Info().Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "abc-123", line[FieldSession])
}

func TestRequestEventFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	RequestEvent(base, "OPTIONS", "*", "1", 200)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "OPTIONS", line[FieldMethod])
	require.Equal(t, "*", line[FieldURI])
	require.Equal(t, "1", line[FieldCSeq])
	require.Equal(t, float64(200), line[FieldStatus])
}

func TestNopLoggerDiscardsOutput(t *testing.T) {
	// Nop should never panic and never write anywhere observable.
	Nop.Info().Str("x", "y").Msg("discarded")
}
