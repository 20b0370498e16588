package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reborn-market/reborn-api/internal/apperr"
)

func TestParseCommandAliases(t *testing.T) {
	cases := map[string]Action{
		`{"action":"accept"}`:    ActionAccept,
		`{"action":" Scan-QR "}`: ActionScan,
		`{"action":"scan qr"}`:   ActionScan,
		`{"action":"verify"}`:    ActionScan,
		`{"action":"CONFIRM"}`:   ActionScan,
		`{"action":"withdraw"}`:  ActionCancel,
		`{"action":"cancelled"}`: ActionCancel,
		`{"action":"close"}`:     ActionClose,
		`{"action":"re-offer"}`:  "",
		`{"action":"reoffer"}`:   ActionReoffer,
		`{"action":"REJECT"}`:    ActionReject,
	}
	for body, want := range cases {
		cmd, err := ParseCommand([]byte(body))
		if want == "" {
			assertCode(t, err, "UNKNOWN_ACTION")
			continue
		}
		require.NoError(t, err, body)
		assert.Equal(t, want, cmd.Action(), body)
	}
}

func TestParseCommandFields(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"action":"REOFFER","meetPlace":" Cafe ","meetTime":"2026-03-01T15:00"}`))
	require.NoError(t, err)
	assert.Equal(t, Reoffer{MeetPlace: "Cafe", MeetTime: "2026-03-01T15:00"}, cmd)

	cmd, err = ParseCommand([]byte(`{"action":"REJECT","reason":"too low"}`))
	require.NoError(t, err)
	assert.Equal(t, Reject{Reason: "too low"}, cmd)

	cmd, err = ParseCommand([]byte(`{"action":"SCAN","code":"fromcode"}`))
	require.NoError(t, err)
	assert.Equal(t, Scan{Token: "fromcode"}, cmd)

	cmd, err = ParseCommand([]byte(`{"action":"SCAN","token":"fromtoken","code":"fromcode"}`))
	require.NoError(t, err)
	assert.Equal(t, Scan{Token: "fromtoken"}, cmd)
}

func TestParseCommandErrors(t *testing.T) {
	_, err := ParseCommand([]byte(`{"action":`))
	assertCode(t, err, "BAD_JSON")

	_, err = ParseCommand(nil)
	assertCode(t, err, "UNKNOWN_ACTION")

	_, err = ParseCommand([]byte(`{"action":"buy now"}`))
	e, ok := apperr.As(err)
	require.True(t, ok)
	body := e.Body()
	assert.Equal(t, "UNKNOWN_ACTION", body["message"])
	assert.Equal(t, "buy now", body["received"])
	assert.Equal(t, "BUY_NOW", body["normalized"])
	assert.Equal(t, supportedActions, body["supported"])
}

func TestExtractToken(t *testing.T) {
	cases := map[string]string{
		"abc123":                                "abc123",
		"  abc123  ":                            "abc123",
		"https://app.example/scan?t=abc123":     "abc123",
		"https://app.example/scan?token=abc123": "abc123",
		"https://app.example/scan?t=a&token=b":  "a",
		"https://app.example/scan":              "",
		"reborn://scan?t=abc123":                "abc123",
		"":                                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractToken(in), in)
	}
}
