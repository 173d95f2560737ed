package severity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"redline/internal/workspace"
)

func TestClassify_FinancialThresholds(t *testing.T) {
	tests := []struct {
		name     string
		baseline string
		current  string
		want     Level
	}{
		{"twelve percent is high", "$100", "$112", High},
		{"six percent is medium", "$100", "$106", Medium},
		{"two percent is low", "$100", "$102", Low},
		{"exactly ten percent is high", "$100", "$110", High},
		{"exactly five percent is medium", "$100", "$105", Medium},
		{"decrease counts the same as increase", "$100", "$88", High},
		{"formatted large values", "$1,000,000", "$1,150,000", High},
		{"unchanged value is low", "$100", "$100", Low},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(workspace.CategoryFinancial, tt.baseline, tt.current))
			assert.Equal(t, tt.want, Classify(workspace.CategoryCovenant, tt.baseline, tt.current),
				"covenant shares financial thresholds")
		})
	}
}

func TestClassify_NonNumericDefinitionIsMedium(t *testing.T) {
	assert.Equal(t, Medium, Classify(workspace.CategoryDefinition, "at least", "no less than"))
	assert.Equal(t, Medium, Classify(workspace.CategoryDefinition, "", "newly defined"))
}

func TestClassify_Defaults(t *testing.T) {
	t.Run("numeric change in non-financial category is low", func(t *testing.T) {
		assert.Equal(t, Low, Classify(workspace.CategoryDefinition, "30", "90"))
		assert.Equal(t, Low, Classify(workspace.CategoryGeneral, "100", "200"))
	})

	t.Run("non-numeric change outside definitions is low", func(t *testing.T) {
		assert.Equal(t, Low, Classify(workspace.CategoryFinancial, "quarterly", "monthly"))
		assert.Equal(t, Low, Classify(workspace.CategoryGeneral, "abc", "def"))
	})

	t.Run("zero baseline cannot produce a percent change", func(t *testing.T) {
		assert.Equal(t, Low, Classify(workspace.CategoryFinancial, "$0", "$500"))
	})
}

func TestClassify_Deterministic(t *testing.T) {
	for range 10 {
		assert.Equal(t, High, Classify(workspace.CategoryFinancial, "$1,000,000", "$1,150,000"))
	}
}
