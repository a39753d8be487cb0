package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    models.Rule
		wantErr bool
	}{
		{
			name: "tag on ingest",
			rule: models.Rule{Name: "pdfs", Trigger: models.EventIngest, Action: models.ActionAddTag, Params: models.ActionParams{Tag: "pdf"}},
		},
		{
			name:    "unknown trigger",
			rule:    models.Rule{Name: "x", Trigger: "explode", Action: models.ActionAddTag, Params: models.ActionParams{Tag: "pdf"}},
			wantErr: true,
		},
		{
			name:    "missing tag",
			rule:    models.Rule{Name: "x", Trigger: models.EventIngest, Action: models.ActionAddTag},
			wantErr: true,
		},
		{
			name:    "reserved tag",
			rule:    models.Rule{Name: "x", Trigger: models.EventIngest, Action: models.ActionAddTag, Params: models.ActionParams{Tag: "a.b"}},
			wantErr: true,
		},
		{
			name:    "sign needs state",
			rule:    models.Rule{Name: "x", Trigger: models.EventIngest, Action: models.ActionSign, Params: models.ActionParams{Pipeline: "editorial"}},
			wantErr: true,
		},
		{
			name:    "run tool needs tool",
			rule:    models.Rule{Name: "x", Trigger: models.EventIngest, Action: models.ActionRunTool},
			wantErr: true,
		},
		{
			name:    "attach with both scopes",
			rule:    models.Rule{Name: "x", Trigger: models.EventTag, Action: models.ActionAttachPipeline, Params: models.ActionParams{Pipeline: "p", Tag: "a", Category: "b"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rule)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseDefinitions(t *testing.T) {
	rules, err := ParseDefinitions([]byte(`
rules:
  - name: tag-pdfs
    trigger: ingest
    filter:
      file_type: pdf
    action: add-tag
    params:
      tag: pdf
    priority: 5
  - name: ocr-scans
    trigger: tag
    filter:
      tag: scan
    action: run-tool
    params:
      tool: ocr
    enabled: false
`))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, models.ActionAddTag, rules[0].Action)
	assert.Equal(t, "pdf", rules[0].Filter.FileType)
	assert.Equal(t, 5, rules[0].Priority)
	assert.True(t, rules[0].Enabled)

	assert.Equal(t, models.ActionRunTool, rules[1].Action)
	assert.False(t, rules[1].Enabled)

	_, err = ParseDefinitions([]byte("rules:\n  - name: bad\n    trigger: ingest\n    action: teleport\n"))
	assert.True(t, apierr.Is(err, apierr.CodeInvalidRule))
}
