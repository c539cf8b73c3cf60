package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gradeline/internal/common/mq"
	"gradeline/internal/notify/mail"
	"gradeline/internal/notify/service"
	"gradeline/internal/submission/model"
	subservice "gradeline/internal/submission/service"
	"gradeline/internal/testutil"
)

type fakeMailer struct {
	mu        sync.Mutex
	sent      []mail.Message
	fail      error
	delivered chan struct{}
}

func (f *fakeMailer) Send(_ context.Context, m mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, m)
	if f.delivered != nil {
		f.delivered <- struct{}{}
	}
	return nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func event(id string, to model.State) model.TransitionEvent {
	return model.TransitionEvent{
		EventID:         id,
		SubmissionID:    "s1",
		AssignmentID:    "a1",
		AssignmentTitle: "Lab 1",
		From:            model.StateGraded,
		To:              to,
		Authors: []model.Author{
			{UserID: "alice", Email: "alice@example.org"},
			{UserID: "bob", Email: "ALICE@example.org"},
			{UserID: "carol", Email: "carol@example.org"},
		},
		Owner:      model.Author{UserID: "owner", Email: "owner@example.org"},
		OccurredAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestAudience(t *testing.T) {
	cases := map[model.State]service.Audience{
		model.StateTestCompileFailed:  service.AudienceAuthors,
		model.StateTestValidityFailed: service.AudienceAuthors,
		model.StateClosed:             service.AudienceAuthors,
		model.StateWithdrawn:          service.AudienceOwner,
		model.StateSubmittedTested:    service.AudienceOwner,
		model.StateGraded:             service.AudienceNone,
		model.StateTestFullFailed:     service.AudienceNone,
	}
	for state, want := range cases {
		testutil.AssertEqual(t, service.AudienceFor(model.StateGraded, state), want)
	}
	testutil.AssertEqual(t, service.AudienceFor(model.StateClosedTestFullPending, model.StateClosed), service.AudienceNone)
}

func TestCloseMailsEachDistinctAuthorOnce(t *testing.T) {
	mailer := &fakeMailer{}
	n, err := service.NewNotifier(service.Config{Mailer: mailer, BaseURL: "https://grades.example.org/"})
	testutil.AssertNil(t, err)
	ctx := context.Background()

	testutil.AssertNil(t, n.Handle(ctx, event("e1", model.StateClosed)))
	testutil.AssertNil(t, n.Handle(ctx, event("e1", model.StateClosed)))

	testutil.AssertEqual(t, mailer.count(), 1)
	m := mailer.sent[0]
	testutil.AssertEqual(t, len(m.To), 2)
	testutil.AssertEqual(t, m.To[0], "alice@example.org")
	testutil.AssertEqual(t, m.To[1], "carol@example.org")
	testutil.AssertEqual(t, m.Subject, "Grading finished: Lab 1")
	testutil.AssertTrue(t, strings.Contains(m.Body, "https://grades.example.org/submissions/s1"), "link rendered")

	// A second close action is a new event.
	testutil.AssertNil(t, n.Handle(ctx, event("e2", model.StateClosed)))
	testutil.AssertEqual(t, mailer.count(), 2)
}

func TestRetestResultOnClosedSubmissionSendsNothing(t *testing.T) {
	mailer := &fakeMailer{}
	n, err := service.NewNotifier(service.Config{Mailer: mailer})
	testutil.AssertNil(t, err)
	ctx := context.Background()

	testutil.AssertNil(t, n.Handle(ctx, event("e1", model.StateClosed)))
	retest := event("e2", model.StateClosedTestFullPending)
	retest.From = model.StateClosed
	testutil.AssertNil(t, n.Handle(ctx, retest))
	result := event("e3", model.StateClosed)
	result.From = model.StateClosedTestFullPending
	testutil.AssertNil(t, n.Handle(ctx, result))

	testutil.AssertEqual(t, mailer.count(), 1)
}

func TestOwnerNotifications(t *testing.T) {
	mailer := &fakeMailer{}
	n, err := service.NewNotifier(service.Config{Mailer: mailer})
	testutil.AssertNil(t, err)

	testutil.AssertNil(t, n.Handle(context.Background(), event("e1", model.StateWithdrawn)))
	testutil.AssertNil(t, n.Handle(context.Background(), event("e2", model.StateGradingInProgress)))

	testutil.AssertEqual(t, mailer.count(), 1)
	testutil.AssertEqual(t, mailer.sent[0].To[0], "owner@example.org")
	testutil.AssertTrue(t, strings.Contains(mailer.sent[0].Body, "alice@example.org"), "authors listed")
}

func TestFailedSendIsRetried(t *testing.T) {
	mailer := &fakeMailer{fail: errors.New("relay down")}
	n, err := service.NewNotifier(service.Config{Mailer: mailer})
	testutil.AssertNil(t, err)
	ctx := context.Background()

	if err := n.Handle(ctx, event("e1", model.StateTestCompileFailed)); err == nil {
		t.Fatal("expected send error")
	}
	mailer.fail = nil
	testutil.AssertNil(t, n.Handle(ctx, event("e1", model.StateTestCompileFailed)))
	testutil.AssertEqual(t, mailer.count(), 1)
}

func TestRedisDedupAcrossNotifiers(t *testing.T) {
	redis, srv := testutil.NewRedis(t)
	mailer := &fakeMailer{}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		n, err := service.NewNotifier(service.Config{Mailer: mailer, Dedup: redis, DedupTTL: time.Hour})
		testutil.AssertNil(t, err)
		testutil.AssertNil(t, n.Handle(ctx, event("e1", model.StateTestValidityFailed)))
	}
	testutil.AssertEqual(t, mailer.count(), 1)
	testutil.AssertTrue(t, srv.Exists("gradeline:notify:event:e1"), "dedup key stored")
}

func TestConsumesPublishedTransitions(t *testing.T) {
	queue := mq.NewMemoryQueue()
	t.Cleanup(func() { _ = queue.Close() })
	mailer := &fakeMailer{delivered: make(chan struct{}, 1)}
	n, err := service.NewNotifier(service.Config{Mailer: mailer})
	testutil.AssertNil(t, err)
	ctx := context.Background()

	testutil.AssertNil(t, queue.Subscribe(ctx, subservice.DefaultTransitionTopic, n.HandleMessage, nil))
	testutil.AssertNil(t, queue.Start())
	testutil.AssertNil(t, subservice.NewMQPublisher(queue, "").PublishTransition(ctx, event("e1", model.StateClosed)))

	select {
	case <-mailer.delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
	testutil.AssertEqual(t, mailer.count(), 1)
}

func TestUndecodableMessageIsDropped(t *testing.T) {
	mailer := &fakeMailer{}
	n, err := service.NewNotifier(service.Config{Mailer: mailer})
	testutil.AssertNil(t, err)
	testutil.AssertNil(t, n.HandleMessage(context.Background(), mq.NewMessage("m1", "s1", []byte("{"))))
	testutil.AssertEqual(t, mailer.count(), 0)
}
