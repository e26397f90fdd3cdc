// Copyright 2025 Inferia
// SPDX-License-Identifier: BUSL-1.1

package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCostCentsKnownModel(t *testing.T) {
	cents := CalculateCostCents("openai", "gpt-4", 1000, 1000)
	assert.Equal(t, 3000+6000, cents)
}

func TestCalculateCostCentsUnknownModelFallsBackToDefault(t *testing.T) {
	cents := CalculateCostCents("openai", "some-future-model", 1000, 0)
	assert.Equal(t, 1000, cents, "expected default prompt rate fallback")
}

func TestCalculateCostCentsSelfHostedEngineIsFree(t *testing.T) {
	cents := CalculateCostCents("vllm", "llama-3-70b", 5000, 5000)
	assert.Zero(t, cents, "expected self-hosted engine to cost 0")
}

func TestFormatCostToDollars(t *testing.T) {
	assert.Equal(t, "$1.35", FormatCostToDollars(135))
}
