// internal/common/validation/schema_test.go
package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testSchema = `{
	"type": "object",
	"required": ["event"],
	"properties": {
		"event": {"type": "string"}
	}
}`

func TestValidateJSON(t *testing.T) {
	tests := []struct {
		name     string
		document string
		wantErr  bool
	}{
		{"conforming document", `{"event": "payment.succeeded"}`, false},
		{"missing required field", `{"other": 1}`, true},
		{"wrong type", `{"event": 42}`, true},
		{"not json at all", `{nope`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJSON(testSchema, []byte(tt.document))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
