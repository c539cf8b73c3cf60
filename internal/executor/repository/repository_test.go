package repository_test

import (
	"context"
	"testing"
	"time"

	"gradeline/internal/common/db"
	"gradeline/internal/executor/repository"
	submodel "gradeline/internal/submission/model"
	subrepo "gradeline/internal/submission/repository"
	"gradeline/internal/testutil"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newDB(t *testing.T) db.Database {
	t.Helper()
	database := testutil.NewSQLite(t)
	testutil.AssertNil(t, subrepo.Migrate(context.Background(), database))
	_, err := database.Exec(context.Background(), `
		INSERT INTO assignments (id, course_id, title, timeout_seconds, created_at)
		VALUES ('a1', 'c1', 'Lab', 30, ?)`, db.Millis(base))
	testutil.AssertNil(t, err)
	return database
}

// seed inserts a submission in state with one current file, modified at base+offset.
func seed(t *testing.T, database db.Database, id string, state submodel.State, offset time.Duration) {
	t.Helper()
	ctx := context.Background()
	fileID := "f-" + id
	_, err := database.Exec(ctx, `
		INSERT INTO submission_files (id, submission_id, object_key, name, size, sha256, created_at)
		VALUES (?, ?, ?, 'solution.zip', 3, '', ?)`, fileID, id, "k/"+id, db.Millis(base))
	testutil.AssertNil(t, err)
	_, err = database.Exec(ctx, `
		INSERT INTO submissions (id, assignment_id, submitter_id, file_id, state, grading_notes, notes, created_at, modified_at)
		VALUES (?, 'a1', 'u', ?, ?, '', '', ?, ?)`, id, fileID, string(state), db.Millis(base), db.Millis(base.Add(offset)))
	testutil.AssertNil(t, err)
}

func order(t *testing.T, q repository.QueueRepository, queue repository.Queue) []string {
	t.Helper()
	list, err := q.Candidates(context.Background(), "runner-1", queue, 10)
	testutil.AssertNil(t, err)
	var ids []string
	for _, c := range list {
		ids = append(ids, c.SubmissionID)
	}
	return ids
}

func TestCandidateOrdering(t *testing.T) {
	database := newDB(t)
	seed(t, database, "pv-new", submodel.StateTestValidityPending, 3*time.Minute)
	seed(t, database, "pc-old", submodel.StateTestCompilePending, time.Minute)
	seed(t, database, "pc-new", submodel.StateTestCompilePending, 2*time.Minute)
	seed(t, database, "ct", submodel.StateClosedTestFullPending, 5*time.Minute)
	seed(t, database, "pf", submodel.StateTestFullPending, time.Minute)
	seed(t, database, "graded", submodel.StateGraded, 0)

	q := repository.NewQueueRepository(database)
	compile := order(t, q, repository.Queues[0])
	testutil.AssertEqual(t, len(compile), 3)
	testutil.AssertEqual(t, compile[0], "pc-new")
	testutil.AssertEqual(t, compile[1], "pc-old")
	testutil.AssertEqual(t, compile[2], "pv-new")

	full := order(t, q, repository.Queues[1])
	testutil.AssertEqual(t, len(full), 2)
	testutil.AssertEqual(t, full[0], "pf")
	testutil.AssertEqual(t, full[1], "ct")
}

func TestClaimIsConditional(t *testing.T) {
	database := newDB(t)
	ctx := context.Background()
	seed(t, database, "s1", submodel.StateTestCompilePending, 0)
	seed(t, database, "s2", submodel.StateSubmitted, 0)
	seed(t, database, "s3", submodel.StateTestCompilePending, 0)
	_, err := database.Exec(ctx, "UPDATE submission_files SET replaced_by = 'f-next' WHERE id = 'f-s3'")
	testutil.AssertNil(t, err)

	q := repository.NewQueueRepository(database)
	ok, err := q.Claim(ctx, "f-s1", submodel.StateTestCompilePending, base)
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, ok, "first claim wins")
	ok, err = q.Claim(ctx, "f-s1", submodel.StateTestCompilePending, base)
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, ok, "second claim loses")

	ok, err = q.Claim(ctx, "f-s2", submodel.StateSubmitted, base)
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, ok, "submission not pending")

	ok, err = q.Claim(ctx, "f-s3", submodel.StateTestCompilePending, base)
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, ok, "replaced file")

	testutil.AssertEqual(t, len(order(t, q, repository.Queues[0])), 0)
}

func TestClaimRequiresSelectedState(t *testing.T) {
	database := newDB(t)
	ctx := context.Background()
	seed(t, database, "s1", submodel.StateTestValidityPending, 0)
	q := repository.NewQueueRepository(database)

	// Selected while compile was pending; a late compile result moved it on.
	ok, err := q.Claim(ctx, "f-s1", submodel.StateTestCompilePending, base)
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, ok, "stale state loses")

	ok, err = q.Claim(ctx, "f-s1", submodel.StateTestValidityPending, base)
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, ok, "current state wins")
}

func TestStuckAndRequeue(t *testing.T) {
	database := newDB(t)
	ctx := context.Background()
	seed(t, database, "s1", submodel.StateTestCompilePending, 0)
	q := repository.NewQueueRepository(database)

	ok, err := q.Claim(ctx, "f-s1", submodel.StateTestCompilePending, base)
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, ok, "claim")

	stuck, err := q.Stuck(ctx, base.Add(29*time.Second), "")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(stuck), 0)

	stuck, err = q.Stuck(ctx, base.Add(31*time.Second), "f-s1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(stuck), 1)
	testutil.AssertEqual(t, stuck[0].SubmissionID, "s1")
	testutil.AssertEqual(t, stuck[0].TimeoutSeconds, 30)
	testutil.AssertTrue(t, stuck[0].FetchedAt.Equal(base), "fetched_at round trips")

	ok, err = q.Requeue(ctx, "f-s1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, ok, "requeue clears claim")
	ok, err = q.Requeue(ctx, "f-s1")
	testutil.AssertNil(t, err)
	testutil.AssertFalse(t, ok, "nothing left to clear")
}

func TestMachineUpsertAndAssignment(t *testing.T) {
	database := newDB(t)
	ctx := context.Background()
	machines := repository.NewMachineRepository(database)

	m, err := machines.Upsert(ctx, "runner-1", "10.0.0.1", "", base)
	testutil.AssertNil(t, err)
	again, err := machines.Upsert(ctx, "runner-1", "10.0.0.9", "gpu", base.Add(time.Hour))
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, again.ID, m.ID)
	testutil.AssertEqual(t, again.Address, "10.0.0.9")
	testutil.AssertTrue(t, again.CreatedAt.Equal(base), "created_at kept")

	_, err = machines.GetByHost(ctx, "ghost")
	testutil.AssertTrue(t, err == repository.ErrMachineNotFound, "missing host")

	other, err := machines.Upsert(ctx, "runner-2", "", "", base)
	testutil.AssertNil(t, err)
	seed(t, database, "s1", submodel.StateTestCompilePending, 0)
	q := repository.NewQueueRepository(database)

	testutil.AssertNil(t, machines.Assign(ctx, "a1", other.ID))
	testutil.AssertNil(t, machines.Assign(ctx, "a1", other.ID))
	assigned, err := machines.ListAssigned(ctx, "a1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(assigned), 1)
	testutil.AssertEqual(t, len(order(t, q, repository.Queues[0])), 0)

	removed, err := machines.Unassign(ctx, "a1", other.ID)
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, removed, "unassigned")
	testutil.AssertEqual(t, len(order(t, q, repository.Queues[0])), 1)
}
