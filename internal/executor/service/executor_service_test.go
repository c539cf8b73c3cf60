package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/db"
	"gradeline/internal/common/storage"
	"gradeline/internal/executor/model"
	exrepo "gradeline/internal/executor/repository"
	"gradeline/internal/executor/service"
	submodel "gradeline/internal/submission/model"
	subrepo "gradeline/internal/submission/repository"
	subservice "gradeline/internal/submission/service"
	"gradeline/internal/testutil"
	appErr "gradeline/pkg/errors"
)

const (
	validityKey = "scripts/a1/validate/check.sh"
	fullKey     = "scripts/a1/full/full.sh"
)

type harness struct {
	db          db.Database
	submissions *subservice.SubmissionService
	executors   *service.ExecutorService
	now         time.Time
}

func newHarness(t *testing.T, a *submodel.Assignment) *harness {
	t.Helper()
	ctx := context.Background()
	database := testutil.NewSQLite(t)
	testutil.AssertNil(t, subrepo.Migrate(ctx, database))
	objects, err := storage.NewLocalStorage(t.TempDir())
	testutil.AssertNil(t, err)
	for key, body := range map[string]string{validityKey: "check", fullKey: "full"} {
		testutil.AssertNil(t, objects.PutObject(ctx, key, strings.NewReader(body), int64(len(body)), ""))
	}

	h := &harness{db: database, now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }
	subs := subrepo.NewSubmissionRepository(database, nil)
	results := subrepo.NewResultRepository(database)
	assignments := subrepo.NewAssignmentRepository(database, nil)

	a.ID = "a1"
	a.Title = "Lab"
	a.Owner = submodel.Author{UserID: "owner", Email: "owner@example.org"}
	testutil.AssertNil(t, subservice.NewAssignmentService(assignments, subs, results, objects).Save(ctx, a))

	h.submissions, err = subservice.NewSubmissionService(subservice.Config{
		DB:          database,
		Submissions: subs,
		Files:       subrepo.NewFileRepository(database),
		Results:     results,
		Assignments: assignments,
		Storage:     objects,
		Locker:      cache.NewLocalLocker(),
		Now:         clock,
	})
	testutil.AssertNil(t, err)

	h.executors, err = service.NewExecutorService(service.Config{
		Machines:    exrepo.NewMachineRepository(database),
		Queue:       exrepo.NewQueueRepository(database),
		Assignments: assignments,
		Storage:     objects,
		Results:     h.submissions,
		Now:         clock,
	})
	testutil.AssertNil(t, err)
	return h
}

func (h *harness) submit(t *testing.T, userID string) *submodel.Submission {
	t.Helper()
	sub, err := h.submissions.Create(context.Background(), submodel.Actor{UserID: userID, Email: userID + "@example.org"},
		subservice.CreateInput{
			AssignmentID: "a1",
			File:         &subservice.Upload{Name: "solution.zip", Size: 3, Content: strings.NewReader("zip")},
		})
	testutil.AssertNil(t, err)
	return sub
}

func (h *harness) register(t *testing.T, host string) *model.Machine {
	t.Helper()
	m, err := h.executors.Register(context.Background(), service.RegisterInput{Host: host, Address: "10.0.0.1"})
	testutil.AssertNil(t, err)
	return m
}

func (h *harness) setState(t *testing.T, id string, s submodel.State) {
	t.Helper()
	_, err := h.db.Exec(context.Background(), "UPDATE submissions SET state = ? WHERE id = ?", string(s), id)
	testutil.AssertNil(t, err)
}

func (h *harness) state(t *testing.T, id string) submodel.State {
	t.Helper()
	view, err := h.submissions.Get(context.Background(), submodel.Actor{UserID: "owner"}, id)
	testutil.AssertNil(t, err)
	return view.Submission.State
}

func TestRegisterIsIdempotent(t *testing.T) {
	h := newHarness(t, &submodel.Assignment{CompileTest: true})
	ctx := context.Background()

	first := h.register(t, "runner-1")
	h.now = h.now.Add(time.Minute)
	second, err := h.executors.Register(ctx, service.RegisterInput{Host: "runner-1", Address: "10.0.0.2", Config: "cpus=4"})
	testutil.AssertNil(t, err)

	testutil.AssertEqual(t, second.ID, first.ID)
	testutil.AssertEqual(t, second.Address, "10.0.0.2")
	testutil.AssertEqual(t, second.Config, "cpus=4")
	testutil.AssertTrue(t, second.LastContact.After(first.LastContact), "last contact refreshed")

	list, err := h.executors.Machines(ctx)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(list), 1)

	_, err = h.executors.Register(ctx, service.RegisterInput{Host: "  "})
	testutil.AssertCode(t, err, appErr.ValidationFailed)
}

func TestFetchRejectsUnknownHost(t *testing.T) {
	h := newHarness(t, &submodel.Assignment{CompileTest: true})
	_, err := h.executors.Fetch(context.Background(), "ghost")
	testutil.AssertCode(t, err, appErr.ExecutorUnknown)
}

func TestFetchWithoutWork(t *testing.T) {
	h := newHarness(t, &submodel.Assignment{})
	h.register(t, "runner-1")
	h.submit(t, "alice")

	job, err := h.executors.Fetch(context.Background(), "runner-1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, job == nil, "submission without tests is never queued")
}

func TestCompileThenValidityJobs(t *testing.T) {
	h := newHarness(t, &submodel.Assignment{CompileTest: true, ValidityScriptKey: validityKey, TimeoutSeconds: 45})
	ctx := context.Background()
	h.register(t, "runner-1")
	sub := h.submit(t, "alice")
	testutil.AssertEqual(t, sub.State, submodel.StateTestCompilePending)

	job, err := h.executors.Fetch(ctx, "runner-1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, job != nil, "expected compile job")
	testutil.AssertEqual(t, job.Kind, submodel.KindCompile)
	testutil.AssertEqual(t, job.SubmissionID, sub.ID)
	testutil.AssertEqual(t, string(job.File), "zip")
	testutil.AssertEqual(t, job.FileName, "solution.zip")
	testutil.AssertEqual(t, job.CompileCommand, submodel.DefaultCompileCommand)
	testutil.AssertEqual(t, job.TimeoutSeconds, 45)

	again, err := h.executors.Fetch(ctx, "runner-1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, again == nil, "claimed file must not be handed out twice")

	out, err := h.executors.PostResult(ctx, service.ResultPost{Host: "runner-1", FileID: job.FileID, Kind: "compile", Result: "ok"})
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, out.Transitioned, "compile pass transitions")
	testutil.AssertEqual(t, out.To, submodel.StateTestValidityPending)

	job, err = h.executors.Fetch(ctx, "runner-1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, job != nil, "expected validity job")
	testutil.AssertEqual(t, job.Kind, submodel.KindValidate)
	testutil.AssertEqual(t, job.ScriptName, "check.sh")
	testutil.AssertEqual(t, string(job.Script), "check")
	testutil.AssertEqual(t, job.CompileCommand, submodel.DefaultCompileCommand)

	_, err = h.executors.PostResult(ctx, service.ResultPost{Host: "runner-1", FileID: job.FileID, Kind: "validate", ExitCode: 2})
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, h.state(t, sub.ID), submodel.StateTestValidityFailed)
}

func TestCompileQueueDrainsBeforeFullQueue(t *testing.T) {
	h := newHarness(t, &submodel.Assignment{CompileTest: true, FullScriptKey: fullKey})
	ctx := context.Background()
	h.register(t, "runner-1")

	full := h.submit(t, "carol")
	h.setState(t, full.ID, submodel.StateTestFullPending)
	h.now = h.now.Add(time.Minute)
	compile := h.submit(t, "alice")

	job, err := h.executors.Fetch(ctx, "runner-1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, job.SubmissionID, compile.ID)

	job, err = h.executors.Fetch(ctx, "runner-1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, job.SubmissionID, full.ID)
	testutil.AssertEqual(t, job.Kind, submodel.KindFull)
	testutil.AssertEqual(t, string(job.Script), "full")
}

func TestMachineEligibility(t *testing.T) {
	h := newHarness(t, &submodel.Assignment{CompileTest: true})
	ctx := context.Background()
	h.register(t, "runner-1")
	h.register(t, "runner-2")
	h.submit(t, "alice")

	eligible, err := h.executors.EligibleMachines(ctx, "a1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(eligible), 2)

	testutil.AssertNil(t, h.executors.AssignMachine(ctx, "a1", "runner-1"))
	testutil.AssertNil(t, h.executors.AssignMachine(ctx, "a1", "runner-1"))
	eligible, err = h.executors.EligibleMachines(ctx, "a1")
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(eligible), 1)
	testutil.AssertEqual(t, eligible[0].Host, "runner-1")

	job, err := h.executors.Fetch(ctx, "runner-2")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, job == nil, "unassigned host gets no work")

	job, err = h.executors.Fetch(ctx, "runner-1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, job != nil, "assigned host gets the job")

	testutil.AssertNil(t, h.executors.UnassignMachine(ctx, "a1", "runner-1"))
	testutil.AssertCode(t, h.executors.UnassignMachine(ctx, "a1", "runner-1"), appErr.NotFound)
	testutil.AssertCode(t, h.executors.AssignMachine(ctx, "missing", "runner-1"), appErr.AssignmentNotFound)
	testutil.AssertCode(t, h.executors.AssignMachine(ctx, "a1", "ghost"), appErr.ExecutorUnknown)
}

func TestConcurrentFetchClaimsOnce(t *testing.T) {
	h := newHarness(t, &submodel.Assignment{CompileTest: true})
	ctx := context.Background()
	const workers = 8
	for i := 0; i < workers; i++ {
		h.register(t, "runner-"+string(rune('a'+i)))
	}
	h.submit(t, "alice")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		got  []*model.Job
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			job, err := h.executors.Fetch(ctx, host)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if job != nil {
				got = append(got, job)
			}
		}("runner-" + string(rune('a'+i)))
	}
	wg.Wait()

	testutil.AssertEqual(t, len(errs), 0)
	testutil.AssertEqual(t, len(got), 1)
}

func TestStuckJobsAndRequeue(t *testing.T) {
	h := newHarness(t, &submodel.Assignment{CompileTest: true, TimeoutSeconds: 30})
	ctx := context.Background()
	h.register(t, "runner-1")
	h.submit(t, "alice")

	job, err := h.executors.Fetch(ctx, "runner-1")
	testutil.AssertNil(t, err)

	stuck, err := h.executors.StuckJobs(ctx)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(stuck), 0)
	_, err = h.executors.Requeue(ctx, job.FileID)
	testutil.AssertCode(t, err, appErr.StuckJobNotFound)

	h.now = h.now.Add(time.Minute)
	stuck, err = h.executors.StuckJobs(ctx)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, len(stuck), 1)
	testutil.AssertEqual(t, stuck[0].FileID, job.FileID)
	testutil.AssertEqual(t, stuck[0].State, submodel.StateTestCompilePending)

	requeued, err := h.executors.Requeue(ctx, job.FileID)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, requeued.SubmissionID, job.SubmissionID)

	again, err := h.executors.Fetch(ctx, "runner-1")
	testutil.AssertNil(t, err)
	testutil.AssertTrue(t, again != nil, "requeued job is fetched again")
	testutil.AssertEqual(t, again.FileID, job.FileID)
}

func TestPostResultRejections(t *testing.T) {
	h := newHarness(t, &submodel.Assignment{CompileTest: true})
	ctx := context.Background()
	h.register(t, "runner-1")
	sub := h.submit(t, "alice")

	_, err := h.executors.PostResult(ctx, service.ResultPost{Host: "ghost", FileID: sub.FileID, Kind: "compile"})
	testutil.AssertCode(t, err, appErr.ExecutorUnknown)

	_, err = h.executors.PostResult(ctx, service.ResultPost{Host: "runner-1", FileID: sub.FileID, Kind: "lint"})
	testutil.AssertCode(t, err, appErr.UnknownTestKind)

	_, err = h.executors.PostResult(ctx, service.ResultPost{Host: "runner-1", FileID: "missing", Kind: "compile"})
	testutil.AssertCode(t, err, appErr.FileNotFound)

	testutil.AssertEqual(t, h.state(t, sub.ID), submodel.StateTestCompilePending)
}
