// Copyright 2025 Inferia
// SPDX-License-Identifier: BUSL-1.1

package usage

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

type fakeLedger struct {
	events []Event
}

func (l *fakeLedger) AppendEvent(_ context.Context, e Event) error {
	l.events = append(l.events, e)
	return nil
}

func TestRecordLLMRequestIncrementsRollupAndLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	ledger := &fakeLedger{}
	recorder := NewUsageRecorder(db, ledger)

	mock.ExpectExec("INSERT INTO usage_rollups").
		WithArgs("org-1", "user-1", "gpt-4", sqlmock.AnyArg(), 1000, 500, 1500, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = recorder.RecordLLMRequest(context.Background(), Event{
		OrgID: "org-1", UserID: "user-1", Provider: "openai", Model: "gpt-4",
		PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500,
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.events) != 1 {
		t.Fatalf("expected 1 ledger event, got %d", len(ledger.events))
	}
	if ledger.events[0].CostCents == 0 {
		t.Fatalf("expected cost to be computed before ledger append")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestRecordLLMRequestSurvivesNilLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	recorder := NewUsageRecorder(db, nil)
	mock.ExpectExec("INSERT INTO usage_rollups").WillReturnResult(sqlmock.NewResult(1, 1))

	err = recorder.RecordLLMRequest(context.Background(), Event{
		OrgID: "org-1", UserID: "user-1", Provider: "vllm", Model: "llama-3",
		PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20, OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
