package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gradeline/internal/common/db"
	"gradeline/internal/submission/model"
	"gradeline/internal/submission/repository"
	"gradeline/internal/testutil"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newDB(t *testing.T) db.Database {
	t.Helper()
	database := testutil.NewSQLite(t)
	if err := repository.Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func seedSubmission(t *testing.T, subs *repository.SQLSubmissionRepository, files *repository.SQLFileRepository, id string, state model.State) {
	t.Helper()
	ctx := context.Background()
	err := files.Create(ctx, nil, &model.File{ID: id + "-f1", SubmissionID: id, ObjectKey: "k/" + id, Name: "a.zip", CreatedAt: t0})
	testutil.AssertNil(t, err)
	err = subs.Create(ctx, nil, &model.Submission{
		ID:           id,
		AssignmentID: "a1",
		SubmitterID:  "alice",
		Authors:      []model.Author{{UserID: "alice", Email: "alice@example.org"}, {UserID: "bob", Email: "bob@example.org"}},
		FileID:       id + "-f1",
		State:        state,
		CreatedAt:    t0,
		ModifiedAt:   t0,
	})
	testutil.AssertNil(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := newDB(t)
	testutil.AssertNil(t, repository.Migrate(context.Background(), database))
}

func TestSubmissionCreateAndGet(t *testing.T) {
	database := newDB(t)
	subs := repository.NewSubmissionRepository(database, nil)
	files := repository.NewFileRepository(database)
	seedSubmission(t, subs, files, "s1", model.StateTestCompilePending)

	got, err := subs.GetByID(context.Background(), nil, "s1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, got.State, model.StateTestCompilePending)
	testutil.AssertEqual(t, got.FileID, "s1-f1")
	testutil.AssertEqual(t, len(got.Authors), 2)
	testutil.AssertTrue(t, got.CreatedAt.Equal(t0), "created_at round trips")
	testutil.AssertTrue(t, got.Grade == nil, "no grade yet")

	_, err = subs.GetByID(context.Background(), nil, "missing")
	testutil.AssertTrue(t, errors.Is(err, repository.ErrSubmissionNotFound), "missing submission")
}

func TestSubmissionCreateRejectsReceived(t *testing.T) {
	subs := repository.NewSubmissionRepository(newDB(t), nil)
	err := subs.Create(context.Background(), nil, &model.Submission{
		ID: "s1", AssignmentID: "a1", SubmitterID: "u", Authors: []model.Author{{UserID: "u"}}, State: model.StateReceived,
	})
	testutil.AssertTrue(t, err != nil, "RECEIVED is never persisted")
}

func TestTransitionCompareAndSet(t *testing.T) {
	ctx := context.Background()
	database := newDB(t)
	subs := repository.NewSubmissionRepository(database, nil)
	files := repository.NewFileRepository(database)
	seedSubmission(t, subs, files, "s1", model.StateTestCompilePending)

	err := subs.Transition(ctx, nil, repository.StateChange{
		SubmissionID: "s1", From: model.StateTestValidityPending, To: model.StateTestValidityFailed, Now: t0,
	})
	testutil.AssertTrue(t, errors.Is(err, repository.ErrStateConflict), "stale from state loses")

	err = subs.Transition(ctx, nil, repository.StateChange{
		SubmissionID: "s1", From: model.StateTestCompilePending, To: model.StateTestCompileFailed,
		ExpectFileID: "other", Now: t0,
	})
	testutil.AssertTrue(t, errors.Is(err, repository.ErrStateConflict), "file guard")

	later := t0.Add(time.Minute)
	err = subs.Transition(ctx, nil, repository.StateChange{
		SubmissionID: "s1", From: model.StateTestCompilePending, To: model.StateTestCompileFailed,
		ExpectFileID: "s1-f1", Now: later,
	})
	testutil.AssertNil(t, err)

	got, err := subs.GetByID(ctx, nil, "s1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, got.State, model.StateTestCompileFailed)
	testutil.AssertTrue(t, got.ModifiedAt.Equal(later), "modified_at updated")
}

func TestTransitionRequireUnclaimed(t *testing.T) {
	ctx := context.Background()
	database := newDB(t)
	subs := repository.NewSubmissionRepository(database, nil)
	files := repository.NewFileRepository(database)
	seedSubmission(t, subs, files, "s1", model.StateTestCompilePending)

	_, err := database.Exec(ctx, "UPDATE submission_files SET fetched_at = ? WHERE id = ?", db.Millis(t0), "s1-f1")
	testutil.AssertNil(t, err)

	change := repository.StateChange{
		SubmissionID: "s1", From: model.StateTestCompilePending, To: model.StateWithdrawn,
		RequireUnclaimed: true, Now: t0,
	}
	err = subs.Transition(ctx, nil, change)
	testutil.AssertTrue(t, errors.Is(err, repository.ErrStateConflict), "claimed file blocks the change")

	released, err := files.ReleaseClaim(ctx, nil, "s1-f1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, released, "claim was held")
	testutil.AssertNil(t, subs.Transition(ctx, nil, change))
}

func TestTransitionRecordsGrade(t *testing.T) {
	ctx := context.Background()
	database := newDB(t)
	subs := repository.NewSubmissionRepository(database, nil)
	seedSubmission(t, subs, repository.NewFileRepository(database), "s1", model.StateGradingInProgress)

	notes := "well done"
	err := subs.Transition(ctx, nil, repository.StateChange{
		SubmissionID: "s1", From: model.StateGradingInProgress, To: model.StateGraded,
		Grade: &model.Grade{Title: "A", Passed: true}, GradingNotes: &notes, Now: t0,
	})
	testutil.AssertNil(t, err)
	got, err := subs.GetByID(ctx, nil, "s1")
	testutil.AssertNil(t, err)
	if got.Grade == nil || got.Grade.Title != "A" || !got.Grade.Passed {
		t.Fatalf("grade = %+v", got.Grade)
	}
	testutil.AssertEqual(t, got.GradingNotes, "well done")
}

func TestListByAssignmentAndHasActive(t *testing.T) {
	ctx := context.Background()
	database := newDB(t)
	subs := repository.NewSubmissionRepository(database, nil)
	files := repository.NewFileRepository(database)
	seedSubmission(t, subs, files, "s1", model.StateSubmittedTested)
	seedSubmission(t, subs, files, "s2", model.StateWithdrawn)
	seedSubmission(t, subs, files, "s3", model.StateGraded)

	gradable, err := subs.ListByAssignment(ctx, "a1", model.GradableStates)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(gradable), 1)
	testutil.AssertEqual(t, gradable[0].ID, "s1")
	testutil.AssertEqual(t, len(gradable[0].Authors), 2)

	all, err := subs.ListByAssignment(ctx, "a1", nil)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(all), 3)

	active, err := subs.HasActive(ctx, nil, "a1", "bob")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, active, "bob co-authors s1")
	active, err = subs.HasActive(ctx, nil, "a2", "bob")
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, active, "no submission on a2")
}

func TestSubmissionCacheEvictedOnTransition(t *testing.T) {
	ctx := context.Background()
	database := newDB(t)
	redis, _ := testutil.NewRedis(t)
	subs := repository.NewSubmissionRepository(database, redis)
	seedSubmission(t, subs, repository.NewFileRepository(database), "s1", model.StateSubmitted)

	first, err := subs.GetByID(ctx, nil, "s1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, first.State, model.StateSubmitted)

	err = subs.Transition(ctx, nil, repository.StateChange{
		SubmissionID: "s1", From: model.StateSubmitted, To: model.StateGradingInProgress, Now: t0,
	})
	testutil.AssertNil(t, err)

	second, err := subs.GetByID(ctx, nil, "s1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, second.State, model.StateGradingInProgress)
}

func TestFileReplacementChain(t *testing.T) {
	ctx := context.Background()
	files := repository.NewFileRepository(newDB(t))
	for i, id := range []string{"f1", "f2"} {
		testutil.AssertNil(t, files.Create(ctx, nil, &model.File{
			ID: id, SubmissionID: "s1", ObjectKey: "k/" + id, Name: "a.zip", CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}
	testutil.AssertNil(t, files.MarkReplaced(ctx, nil, "f1", "f2"))
	err := files.MarkReplaced(ctx, nil, "f1", "f3")
	testutil.AssertTrue(t, errors.Is(err, repository.ErrStateConflict), "a file is replaced once")

	list, err := files.ListBySubmission(ctx, "s1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(list), 2)
	testutil.AssertFalse(t, list[0].IsCurrent(), "f1 replaced")
	testutil.AssertTrue(t, list[1].IsCurrent(), "f2 current")

	_, err = files.GetByID(ctx, nil, "nope")
	testutil.AssertTrue(t, errors.Is(err, repository.ErrFileNotFound), "missing file")
}

func TestLatestResultPerKind(t *testing.T) {
	ctx := context.Background()
	database := newDB(t)
	subs := repository.NewSubmissionRepository(database, nil)
	files := repository.NewFileRepository(database)
	results := repository.NewResultRepository(database)
	seedSubmission(t, subs, files, "s1", model.StateSubmittedTested)

	add := func(id string, kind model.TestKind, exit int, at time.Duration, perf string) {
		testutil.AssertNil(t, results.Create(ctx, nil, &model.TestResult{
			ID: id, FileID: "s1-f1", MachineID: "m1", Kind: kind, Result: id, ExitCode: exit,
			PerfData: perf, CreatedAt: t0.Add(at),
		}))
	}
	add("c-old", model.KindCompile, 1, 0, "")
	add("c-new", model.KindCompile, 0, time.Minute, "")
	add("v", model.KindValidate, 0, 2*time.Minute, "")

	latest, err := results.LatestByKind(ctx, "s1-f1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, latest[model.KindCompile].ID, "c-new")
	testutil.AssertEqual(t, latest[model.KindValidate].ID, "v")
	testutil.AssertTrue(t, latest[model.KindFull] == nil, "no full result")

	perf, err := results.AssignmentHasPerfData(ctx, "a1")
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, perf, "no perf data yet")
	add("f", model.KindFull, 0, 3*time.Minute, "12ms")
	perf, err = results.AssignmentHasPerfData(ctx, "a1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, perf, "perf data recorded")
}

func TestAssignmentSaveAndGet(t *testing.T) {
	ctx := context.Background()
	database := newDB(t)
	redis, _ := testutil.NewRedis(t)
	repo := repository.NewAssignmentRepository(database, redis)

	a := &model.Assignment{
		ID: "a1", CourseID: "c1", Title: "Lab 1", CompileTest: true, FullScriptKey: "scripts/full.sh",
		HardDeadline: t0, Owner: model.Author{UserID: "owner", Email: "owner@example.org"},
		Tutors: []model.Author{{UserID: "t1"}, {UserID: "owner"}},
	}
	testutil.AssertNil(t, repo.Save(ctx, a))

	got, err := repo.GetByID(ctx, nil, "a1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, got.Owner.Email, "owner@example.org")
	testutil.AssertEqual(t, len(got.Tutors), 1)
	testutil.AssertEqual(t, got.Command(), "make")
	testutil.AssertTrue(t, got.Pipeline() == model.Pipeline{Compile: true, Full: true}, "pipeline")
	testutil.AssertTrue(t, got.HardDeadline.Equal(t0), "deadline round trips")

	a.Title = "Lab 1 (revised)"
	a.Tutors = nil
	testutil.AssertNil(t, repo.Save(ctx, a))
	got, err = repo.GetByID(ctx, nil, "a1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, got.Title, "Lab 1 (revised)")
	testutil.AssertEqual(t, len(got.Tutors), 0)

	_, err = repo.GetByID(ctx, nil, "nope")
	testutil.AssertTrue(t, errors.Is(err, repository.ErrAssignmentNotFound), "missing assignment")
}
