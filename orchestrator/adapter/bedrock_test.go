// Copyright 2025 Inferia
// SPDX-License-Identifier: BUSL-1.1

package adapter

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

func TestBedrockAdapterSatisfiesProviderAdapterAndDirectInvoker(t *testing.T) {
	a := NewBedrockAdapter(&bedrockruntime.Client{}, "anthropic.claude-3-sonnet-20240229-v1:0")
	if a.Name() != "bedrock" {
		t.Fatalf("expected name bedrock, got %s", a.Name())
	}
	if _, ok := a.(DirectInvoker); !ok {
		t.Fatalf("expected bedrock adapter to implement DirectInvoker")
	}
	if _, err := a.TransformRequest(ChatRequest{}); err == nil {
		t.Fatalf("expected TransformRequest to be unsupported on a DirectInvoker adapter")
	}
}
