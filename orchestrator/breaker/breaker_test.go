// Copyright 2025 Inferia
// SPDX-License-Identifier: BUSL-1.1

package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestAllowClosedByDefault(t *testing.T) {
	r := New(Config{ErrorThreshold: 2, CooldownPeriod: time.Minute})
	if err := r.Allow("dep-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestTripsAfterThreshold(t *testing.T) {
	r := New(Config{ErrorThreshold: 2, CooldownPeriod: time.Minute})
	r.RecordFailure("dep-1")
	if err := r.Allow("dep-1"); err != nil {
		t.Fatalf("expected still closed after 1 failure, got %v", err)
	}
	r.RecordFailure("dep-1")
	if err := r.Allow("dep-1"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen after threshold failures, got %v", err)
	}
}

func TestRecordSuccessResetsFailures(t *testing.T) {
	r := New(Config{ErrorThreshold: 2, CooldownPeriod: time.Minute})
	r.RecordFailure("dep-1")
	r.RecordSuccess("dep-1")
	r.RecordFailure("dep-1")
	if err := r.Allow("dep-1"); err != nil {
		t.Fatalf("expected closed after reset, got %v", err)
	}
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	r := New(Config{ErrorThreshold: 1, CooldownPeriod: 10 * time.Millisecond})
	r.RecordFailure("dep-1")
	if err := r.Allow("dep-1"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected open immediately after trip, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := r.Allow("dep-1"); err != nil {
		t.Fatalf("expected a half-open probe to be allowed, got %v", err)
	}
	if err := r.Allow("dep-1"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected second concurrent caller to be rejected during half-open probe, got %v", err)
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	r := New(Config{ErrorThreshold: 1, CooldownPeriod: 10 * time.Millisecond})
	r.RecordFailure("dep-1")
	time.Sleep(20 * time.Millisecond)
	if err := r.Allow("dep-1"); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}
	r.RecordFailure("dep-1")
	if err := r.Allow("dep-1"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected breaker to reopen after failed probe, got %v", err)
	}
}

func TestStatusReportsKnownDeployments(t *testing.T) {
	r := New(Config{ErrorThreshold: 1, CooldownPeriod: time.Minute})
	r.RecordFailure("dep-1")
	status := r.Status()
	if len(status) != 1 || status[0].DeploymentID != "dep-1" || !status[0].Open {
		t.Fatalf("expected one open snapshot for dep-1, got %+v", status)
	}
}
