package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/applianced/internal/emver"
	"git.home.luguber.info/inful/applianced/internal/migration"
	"git.home.luguber.info/inful/applianced/internal/notify"
	"git.home.luguber.info/inful/applianced/internal/state"
)

func TestJournalRecordsMigrationRuns(t *testing.T) {
	ctx := t.Context()
	journal := NewJournal(newTestStore(t), nil)

	st, err := state.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, _, err = st.Seed(ctx, emver.MustParse("0.1.0"))
	require.NoError(t, err)

	failSecond := true
	reg := migration.MustRegistry(
		migration.Define("0.1.0::0.1.1", "first", func(context.Context, *migration.Device) error { return nil }),
		migration.Define("0.1.1::0.1.2", "second", func(context.Context, *migration.Device) error {
			if failSecond {
				return errors.New("disk full")
			}
			return nil
		}),
	)
	ids := []string{"run-a", "run-b"}
	next := 0
	m := migration.NewMigrator(reg, st.VersionRecord(), &migration.Device{KV: st},
		migration.WithObserver(journal),
		migration.WithRunIDFunc(func() string { id := ids[next]; next++; return id }))

	_, err = m.MigrateTo(ctx, emver.MustParse("0.1.2"))
	require.Error(t, err)

	failSecond = false
	time.Sleep(2 * time.Millisecond)
	_, err = m.MigrateTo(ctx, emver.MustParse("0.1.2"))
	require.NoError(t, err)

	events, err := journal.Store().GetByRunID(ctx, "run-a")
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	require.Equal(t, []string{
		TypeMigrationStarted,
		TypeMigrationStepStarted, TypeMigrationStepCompleted,
		TypeMigrationStepStarted, TypeMigrationStepFailed,
		TypeMigrationFinished,
	}, types)

	projection := NewRunHistoryProjection(journal.Store(), 10)
	require.NoError(t, projection.Rebuild(ctx))

	first, ok := projection.Get("run-a")
	require.True(t, ok)
	require.Equal(t, RunFailed, first.Status)
	require.Equal(t, "0.1.1::0.1.2", first.FailedStep)
	require.Equal(t, "disk full", first.Error)
	require.Equal(t, "0.1.1", first.Reached)
	require.Equal(t, 2, first.StepsPlanned)
	require.Equal(t, 1, first.StepsApplied)

	second, ok := projection.Get("run-b")
	require.True(t, ok)
	require.Equal(t, RunCompleted, second.Status)
	require.Equal(t, "0.1.1", second.From)
	require.Equal(t, "0.1.2", second.Reached)
	require.NotNil(t, second.CompletedAt)

	runs := projection.Runs()
	require.Len(t, runs, 2)
	require.Equal(t, "run-b", runs[0].RunID)
}

func TestJournalRecordsAlerts(t *testing.T) {
	ctx := t.Context()
	journal := NewJournal(newTestStore(t), nil)

	alert := notify.NewAlert("tor", "tor unreachable", 5, errors.New("dial timeout"))
	require.NoError(t, journal.Notify(ctx, alert))

	events, err := journal.Store().GetByRunID(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	var payload TaskEscalatedPayload
	require.NoError(t, DecodePayload(events[0], &payload))
	require.Equal(t, "tor", payload.Task)
	require.Equal(t, 5, payload.ConsecutiveFailures)

	projection := NewRunHistoryProjection(journal.Store(), 10)
	require.NoError(t, projection.Rebuild(ctx))
	require.Empty(t, projection.Runs(), "alerts are not migration runs")

	removed, err := journal.Prune(ctx, -time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}
