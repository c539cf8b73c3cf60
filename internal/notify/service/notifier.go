package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"gradeline/internal/common/cache"
	"gradeline/internal/common/mq"
	"gradeline/internal/notify/mail"
	"gradeline/internal/submission/model"
	subservice "gradeline/internal/submission/service"
	"gradeline/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	dedupKeyPrefix  = "gradeline:notify:event:"
	defaultDedupTTL = 7 * 24 * time.Hour
)

// Audience is who hears about a transition.
type Audience int

const (
	AudienceNone Audience = iota
	AudienceAuthors
	AudienceOwner
)

type notice struct {
	audience Audience
	subject  *template.Template
	body     *template.Template
}

func mustNotice(audience Audience, subject, body string) notice {
	return notice{
		audience: audience,
		subject:  template.Must(template.New("subject").Parse(subject)),
		body:     template.Must(template.New("body").Parse(body)),
	}
}

var notices = map[model.State]notice{
	model.StateTestCompileFailed: mustNotice(AudienceAuthors,
		`Compilation failed: {{.AssignmentTitle}}`,
		`Your submission for "{{.AssignmentTitle}}" did not compile.
Check the test output{{with .Link}} at {{.}}{{end}} and upload a corrected version before the deadline.
`),
	model.StateTestValidityFailed: mustNotice(AudienceAuthors,
		`Validation failed: {{.AssignmentTitle}}`,
		`Your submission for "{{.AssignmentTitle}}" failed the validation test.
Check the test output{{with .Link}} at {{.}}{{end}} and upload a corrected version before the deadline.
`),
	model.StateClosed: mustNotice(AudienceAuthors,
		`Grading finished: {{.AssignmentTitle}}`,
		`The grading of your submission for "{{.AssignmentTitle}}" is finished.
{{with .Link}}See {{.}} for the result.
{{end}}`),
	model.StateWithdrawn: mustNotice(AudienceOwner,
		`Submission withdrawn: {{.AssignmentTitle}}`,
		`Submission {{.SubmissionID}} for "{{.AssignmentTitle}}" by {{.AuthorList}} was withdrawn.
`),
	model.StateSubmittedTested: mustNotice(AudienceOwner,
		`Submission ready for grading: {{.AssignmentTitle}}`,
		`Submission {{.SubmissionID}} for "{{.AssignmentTitle}}" by {{.AuthorList}} passed all tests and waits for grading.
{{with .Link}}{{.}}
{{end}}`),
}

// AudienceFor returns who is notified when a submission moves from one state to another.
func AudienceFor(from, to model.State) Audience {
	nt, _ := noticeFor(from, to)
	return nt.audience
}

// noticeFor picks the notice of a transition. A full re-test result on a
// closed submission returns it to CLOSED without a new close action.
func noticeFor(from, to model.State) (notice, bool) {
	if to == model.StateClosed && from == model.StateClosedTestFullPending {
		return notice{}, false
	}
	nt, ok := notices[to]
	return nt, ok
}

// Config configures a Notifier.
type Config struct {
	Mailer mail.Mailer
	// Dedup remembers handled event ids; nil keeps them in process memory.
	Dedup    cache.BasicOps
	DedupTTL time.Duration
	// BaseURL, when set, is used to link submissions in mails.
	BaseURL string
}

// Notifier turns transition events into mails. Each event is mailed at most once.
type Notifier struct {
	mailer   mail.Mailer
	dedup    cache.BasicOps
	dedupTTL time.Duration
	baseURL  string

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewNotifier(cfg Config) (*Notifier, error) {
	if cfg.Mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	return &Notifier{
		mailer:   cfg.Mailer,
		dedup:    cfg.Dedup,
		dedupTTL: cfg.DedupTTL,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		seen:     make(map[string]time.Time),
	}, nil
}

// HandleMessage is an mq.HandlerFunc for the transition topic.
func (n *Notifier) HandleMessage(ctx context.Context, msg *mq.Message) error {
	event, err := subservice.DecodeTransition(msg)
	if err != nil {
		// Redelivery cannot fix a malformed message.
		logger.Error(ctx, "drop undecodable transition", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	return n.Handle(ctx, event)
}

// Handle mails the audience of one event.
func (n *Notifier) Handle(ctx context.Context, event model.TransitionEvent) error {
	nt, ok := noticeFor(event.From, event.To)
	if !ok || nt.audience == AudienceNone {
		return nil
	}
	recipients := n.recipients(nt.audience, event)
	if len(recipients) == 0 {
		logger.Warn(ctx, "transition has no recipients",
			zap.String("event_id", event.EventID),
			zap.String("submission_id", event.SubmissionID),
			zap.String("state", string(event.To)),
		)
		return nil
	}

	first, err := n.claim(ctx, event.EventID)
	if err != nil {
		return err
	}
	if !first {
		logger.Info(ctx, "duplicate transition event skipped", zap.String("event_id", event.EventID))
		return nil
	}

	m, err := n.render(nt, event, recipients)
	if err != nil {
		n.forget(ctx, event.EventID)
		return err
	}
	if err := n.mailer.Send(ctx, m); err != nil {
		n.forget(ctx, event.EventID)
		logger.Warn(ctx, "send notification failed",
			zap.String("event_id", event.EventID),
			zap.String("submission_id", event.SubmissionID),
			zap.Error(err),
		)
		return err
	}
	logger.Info(ctx, "notification sent",
		zap.String("event_id", event.EventID),
		zap.String("submission_id", event.SubmissionID),
		zap.String("state", string(event.To)),
		zap.Int("recipients", len(recipients)),
	)
	return nil
}

func (n *Notifier) recipients(audience Audience, event model.TransitionEvent) []string {
	switch audience {
	case AudienceAuthors:
		return model.DistinctEmails(event.Authors)
	case AudienceOwner:
		return model.DistinctEmails([]model.Author{event.Owner})
	}
	return nil
}

type mailData struct {
	model.TransitionEvent
	AuthorList string
	Link       string
}

func (n *Notifier) render(nt notice, event model.TransitionEvent, to []string) (mail.Message, error) {
	data := mailData{TransitionEvent: event, AuthorList: authorList(event.Authors)}
	if n.baseURL != "" {
		data.Link = n.baseURL + "/submissions/" + event.SubmissionID
	}
	var subject, body bytes.Buffer
	if err := nt.subject.Execute(&subject, data); err != nil {
		return mail.Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := nt.body.Execute(&body, data); err != nil {
		return mail.Message{}, fmt.Errorf("render body: %w", err)
	}
	return mail.Message{To: to, Subject: subject.String(), Body: body.String()}, nil
}

func authorList(authors []model.Author) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.Email != "" {
			names = append(names, a.Email)
		} else {
			names = append(names, a.UserID)
		}
	}
	return strings.Join(names, ", ")
}

func (n *Notifier) claim(ctx context.Context, eventID string) (bool, error) {
	if n.dedup != nil {
		ok, err := n.dedup.SetNX(ctx, dedupKeyPrefix+eventID, "1", n.dedupTTL)
		if err != nil {
			return false, fmt.Errorf("dedup event %s: %w", eventID, err)
		}
		return ok, nil
	}
	now := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, at := range n.seen {
		if now.Sub(at) > n.dedupTTL {
			delete(n.seen, id)
		}
	}
	if _, dup := n.seen[eventID]; dup {
		return false, nil
	}
	n.seen[eventID] = now
	return true, nil
}

// forget releases a claim so the redelivered event is mailed.
func (n *Notifier) forget(ctx context.Context, eventID string) {
	if n.dedup != nil {
		if err := n.dedup.Del(ctx, dedupKeyPrefix+eventID); err != nil {
			logger.Warn(ctx, "release dedup key failed", zap.String("event_id", eventID), zap.Error(err))
		}
		return
	}
	n.mu.Lock()
	delete(n.seen, eventID)
	n.mu.Unlock()
}
