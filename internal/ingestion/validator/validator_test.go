package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		size     int64
		fields   []string
	}{
		{"valid", "2026 취업규칙.pdf", 1024, nil},
		{"empty name", "  ", 10, []string{"filename"}},
		{"path traversal", "../secrets.txt", 10, []string{"filename"}},
		{"windows separator", `docs\a.txt`, 10, []string{"filename"}},
		{"dot dot", "..", 10, []string{"filename"}},
		{"nul byte", "a\x00.txt", 10, []string{"filename"}},
		{"too long", strings.Repeat("가", 256) + ".txt", 10, []string{"filename"}},
		{"empty file", "a.txt", 0, []string{"file"}},
		{"too big", "a.txt", 101, []string{"file"}},
		{"both", "", -1, []string{"file", "filename"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.filename, tt.size, 100)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			got := make([]string, 0, len(verr.Fields))
			for f := range verr.Fields {
				got = append(got, f)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestValidateUploadWithoutCeiling(t *testing.T) {
	assert.NoError(t, ValidateUpload("huge.csv", 10<<30, 0))
}

func TestValidateStatusFilter(t *testing.T) {
	known := []string{"pending", "failed"}
	assert.NoError(t, ValidateStatusFilter("", known))
	assert.NoError(t, ValidateStatusFilter("failed", known))

	err := ValidateStatusFilter("done", known)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["status"], "pending, failed")
}

func TestValidationErrorIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "two", "a": "one"}}
	assert.Equal(t, "a:one; b:two", err.Error())
}
