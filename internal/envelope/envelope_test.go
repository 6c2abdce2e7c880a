package envelope

import (
	"testing"

	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/stretchr/testify/require"
)

func TestValidatePayloadTooLarge(t *testing.T) {
	v := NewValidator()
	big := make([]byte, MaxBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	_, fail := v.Validate(big, 0)
	require.NotNil(t, fail)
	require.Equal(t, contracts.ParsePayloadTooLarge, fail.Code)
}

func TestValidateInvalidJSON(t *testing.T) {
	v := NewValidator()
	_, fail := v.Validate([]byte("{not json"), 0)
	require.NotNil(t, fail)
	require.Equal(t, contracts.ParseInvalidJSON, fail.Code)
}

func TestValidateRequiresAssistantText(t *testing.T) {
	v := NewValidator()
	_, fail := v.Validate([]byte(`{"assistant_text":""}`), 0)
	require.NotNil(t, fail)
	require.Equal(t, contracts.ParseSchemaInvalid, fail.Code)
}

func TestValidateAliasNormalization(t *testing.T) {
	v := NewValidator()
	env, fail := v.Validate([]byte(`{"assistant_text":"hi","meta":{"ghost_type":"memory","metaVersion":"v2"}}`), 0)
	require.Nil(t, fail)
	require.Equal(t, "memory_artifact", env.Meta.GhostKind)
	require.Equal(t, "v2", env.Meta.MetaVersion)
}

func TestValidateDefaultsMetaVersion(t *testing.T) {
	v := NewValidator()
	env, fail := v.Validate([]byte(`{"assistant_text":"hi","meta":{"display_hint":"ghost_card","ghost_kind":"journal_moment"}}`), 0)
	require.Nil(t, fail)
	require.Equal(t, "v1", env.Meta.MetaVersion)
}

func TestValidateRejectsUnknownMetaKey(t *testing.T) {
	v := NewValidator()
	_, fail := v.Validate([]byte(`{"assistant_text":"hi","meta":{"bogus_key":true}}`), 0)
	require.NotNil(t, fail)
	require.Equal(t, contracts.ParseSchemaInvalid, fail.Code)
}

func TestValidateGhostCardMissingKindWarnsWithoutBlocking(t *testing.T) {
	v := NewValidator()
	env, fail := v.Validate([]byte(`{"assistant_text":"hi","meta":{"display_hint":"ghost_card"}}`), 0)
	require.Nil(t, fail)
	require.NotEmpty(t, env.SchemaWarnings)
}

func TestValidateCaptureSuggestionCalendarEventRequiresStartAt(t *testing.T) {
	v := NewValidator()
	env, fail := v.Validate([]byte(`{"assistant_text":"hi","meta":{"capture_suggestion":{"kind":"calendar_event","suggested_date":"2026-08-01"}}}`), 0)
	require.Nil(t, fail)
	require.NotEmpty(t, env.SchemaWarnings)
}

func TestValidateCaptureSuggestionReminderForbidsStartAt(t *testing.T) {
	v := NewValidator()
	env, fail := v.Validate([]byte(`{"assistant_text":"hi","meta":{"capture_suggestion":{"kind":"reminder","suggested_start_at":"2026-08-01T00:00:00Z"}}}`), 0)
	require.Nil(t, fail)
	require.NotEmpty(t, env.SchemaWarnings)
}

func TestValidateCaptureSuggestionValidCalendarEventHasNoWarnings(t *testing.T) {
	v := NewValidator()
	env, fail := v.Validate([]byte(`{"assistant_text":"hi","meta":{"capture_suggestion":{"kind":"calendar_event","suggested_start_at":"2026-08-01T00:00:00Z"}}}`), 0)
	require.Nil(t, fail)
	require.Empty(t, env.SchemaWarnings)
}
