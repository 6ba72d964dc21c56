package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"gather/internal/external"
	"gather/internal/types"
)

// attendeeSendConcurrency bounds parallel provider calls during
// location_unlocked fan-out. Per-recipient log writes stay independent and
// unordered relative to each other.
const attendeeSendConcurrency = 4

// noRecipientsError is the synthetic failure recorded when a job resolves to
// zero recipients with a usable email. It gives the job a terminal state
// instead of letting it sit unprocessable until attempts run out.
const noRecipientsError = "no_recipients"

// QueueStore is the queue access the worker needs: claim a batch, finalize
// each job.
type QueueStore interface {
	ClaimDue(ctx context.Context, batchSize, maxAttempts int) ([]*types.NotificationJob, error)
	MarkSent(ctx context.Context, jobID int64) error
	MarkFailed(ctx context.Context, jobID int64, lastError string) error
}

// DeliveryLog records one row per recipient per job attempt.
type DeliveryLog interface {
	Append(ctx context.Context, e *types.NotificationLogEntry) error
}

// WorkerConfig carries the batch limits and sender identity.
type WorkerConfig struct {
	BatchSize   int
	MaxAttempts int
	From        string
	FromName    string
}

// BatchResult is one invocation's outcome.
type BatchResult struct {
	Claimed   int
	Processed int
}

// Worker drains the notification queue. One ProcessBatch call claims up to
// BatchSize eligible jobs and drives each to a terminal state. Failures are
// contained at the smallest possible scope: a failed recipient never aborts
// its job, a failed job never aborts the batch. Only a failed claim aborts
// the invocation.
type Worker struct {
	queue    QueueStore
	log      DeliveryLog
	contexts *ContextBuilder
	copy     *CopyBuilder
	email    external.EmailProvider
	cfg      WorkerConfig
	logger   *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(
	queue QueueStore,
	log DeliveryLog,
	contexts *ContextBuilder,
	copyBuilder *CopyBuilder,
	email external.EmailProvider,
	cfg WorkerConfig,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		queue:    queue,
		log:      log,
		contexts: contexts,
		copy:     copyBuilder,
		email:    email,
		cfg:      cfg,
		logger:   logger,
	}
}

// ProcessBatch claims and processes one batch. An empty queue returns a zero
// result, not an error. The returned error is non-nil only when the claim
// itself failed; per-job failures are finalized on the job and logged.
func (w *Worker) ProcessBatch(ctx context.Context) (BatchResult, error) {
	jobs, err := w.queue.ClaimDue(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to claim notification batch", "error", err)
		return BatchResult{}, err
	}

	result := BatchResult{Claimed: len(jobs)}
	if len(jobs) == 0 {
		w.logger.InfoContext(ctx, "notification queue empty")
		return result, nil
	}

	for _, job := range jobs {
		w.processJob(ctx, job)
		result.Processed++
	}

	w.logger.InfoContext(ctx, "notification batch complete",
		"claimed", result.Claimed,
		"processed", result.Processed,
	)

	return result, nil
}

// processJob drives one job to a terminal state. Panics and errors inside
// handleJob become status=failed on the job; the batch continues either way.
func (w *Worker) processJob(ctx context.Context, job *types.NotificationJob) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "panic while processing notification job",
				"job_id", job.ID,
				"panic", r,
			)
			w.finalizeFailed(ctx, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := w.handleJob(ctx, job); err != nil {
		w.logger.ErrorContext(ctx, "notification job failed",
			"job_id", job.ID,
			"kind", string(job.Kind),
			"error", err,
		)
		w.finalizeFailed(ctx, job.ID, errText(err))
	}
}

// delivery pairs one resolved recipient with their copy.
type delivery struct {
	recipient *types.Profile
	copy      Copy
}

// handleJob builds context and copy, sends to each usable recipient, and
// finalizes the job: sent when at least one recipient succeeded, failed
// otherwise. The returned error covers only the resolution phase; send
// failures are recorded per recipient and aggregated into last_error.
func (w *Worker) handleJob(ctx context.Context, job *types.NotificationJob) error {
	jc, err := w.contexts.Build(ctx, job)
	if err != nil {
		return err
	}

	var direct []delivery    // requester and host, sent sequentially
	var attendees []delivery // location_unlocked fan-out, sent in parallel

	switch job.Kind {
	case types.KindRequestCreated, types.KindApproved, types.KindRejected:
		if jc.Requester != nil {
			direct = append(direct, delivery{
				recipient: jc.Requester,
				copy:      w.copy.RequesterCopy(ctx, job.Kind, jc, job.HostNote()),
			})
		}
		if jc.Host != nil {
			direct = append(direct, delivery{
				recipient: jc.Host,
				copy:      w.copy.HostCopy(job.Kind, jc),
			})
		}
	case types.KindLocationUnlocked:
		if jc.Host != nil {
			direct = append(direct, delivery{
				recipient: jc.Host,
				copy:      w.copy.HostCopy(job.Kind, jc),
			})
		}
		if len(jc.Attendees) > 0 {
			// One shared message, sent individually to each attendee.
			shared := w.copy.AttendeeCopy(ctx, jc)
			for _, a := range jc.Attendees {
				attendees = append(attendees, delivery{recipient: a, copy: shared})
			}
		}
	default:
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("unknown notification kind %q", job.Kind),
			nil,
		)
	}

	direct = usable(direct)
	attendees = usable(attendees)

	if len(direct)+len(attendees) == 0 {
		w.appendLog(ctx, job, nil, Copy{}, "", noRecipientsError)
		w.finalizeFailed(ctx, job.ID, noRecipientsError)
		return nil
	}

	var (
		mu       sync.Mutex
		sent     int
		sendErrs []string
	)
	record := func(ok bool, errStr string) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			sent++
		} else {
			sendErrs = append(sendErrs, errStr)
		}
	}

	for _, d := range direct {
		ok, errStr := w.sendOne(ctx, job, d)
		record(ok, errStr)
	}

	if len(attendees) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(attendeeSendConcurrency)
		for _, d := range attendees {
			g.Go(func() error {
				ok, errStr := w.sendOne(gctx, job, d)
				record(ok, errStr)
				return nil
			})
		}
		// Goroutines never return errors; Wait only synchronizes.
		_ = g.Wait()
	}

	if sent > 0 {
		if err := w.queue.MarkSent(ctx, job.ID); err != nil {
			w.logger.ErrorContext(ctx, "failed to mark job sent",
				"job_id", job.ID,
				"error", err,
			)
		}
		w.logger.InfoContext(ctx, "notification job sent",
			"job_id", job.ID,
			"kind", string(job.Kind),
			"recipients", len(direct)+len(attendees),
			"delivered", sent,
		)
		return nil
	}

	w.finalizeFailed(ctx, job.ID, strings.Join(sendErrs, " | "))
	return nil
}

// sendOne delivers to a single recipient and appends the log row for the
// outcome. Returns whether the send succeeded and the short error string
// recorded on failure.
func (w *Worker) sendOne(ctx context.Context, job *types.NotificationJob, d delivery) (bool, string) {
	if w.cfg.From == "" {
		w.appendLog(ctx, job, d.recipient, d.copy, "", "missing_MAIL_FROM")
		return false, "missing_MAIL_FROM"
	}

	msgID, err := w.email.Send(ctx, external.SendInput{
		To:          d.recipient.Email,
		ToName:      d.recipient.DisplayName,
		From:        w.cfg.From,
		FromName:    w.cfg.FromName,
		Subject:     d.copy.Subject,
		Text:        d.copy.Body,
		ReferenceID: fmt.Sprintf("job-%d", job.ID),
	})
	if err != nil {
		errStr := errText(err)
		w.logger.WarnContext(ctx, "email send failed",
			"job_id", job.ID,
			"recipient", d.recipient.UserID,
			"error", err,
		)
		w.appendLog(ctx, job, d.recipient, d.copy, "", errStr)
		return false, errStr
	}

	w.appendLog(ctx, job, d.recipient, d.copy, msgID, "")
	return true, ""
}

// appendLog writes one notifications_log row. A nil recipient produces the
// synthetic no_recipients row. Log-write failures are logged and swallowed;
// losing one audit row must not change the job's disposition.
func (w *Worker) appendLog(ctx context.Context, job *types.NotificationJob, recipient *types.Profile, c Copy, msgID, errStr string) {
	entry := &types.NotificationLogEntry{
		QueueID:           job.ID,
		Kind:              job.Kind,
		EventID:           job.EventID,
		JoinRequestID:     job.JoinRequestID,
		Subject:           c.Subject,
		Body:              c.Body,
		AIUsed:            c.AIUsed,
		Provider:          w.email.Name(),
		ProviderMessageID: msgID,
		Status:            types.DeliverySent,
	}
	if recipient != nil {
		entry.RecipientUserID = &recipient.UserID
		entry.RecipientEmail = &recipient.Email
	}
	if errStr != "" {
		entry.Status = types.DeliveryFailed
		entry.Error = errStr
	}

	if err := w.log.Append(ctx, entry); err != nil {
		w.logger.ErrorContext(ctx, "failed to append notification log row",
			"job_id", job.ID,
			"error", err,
		)
	}
}

// finalizeFailed marks the job failed, logging rather than propagating a
// finalize error. A job stuck in processing is recoverable by an operator;
// aborting the batch over it is not.
func (w *Worker) finalizeFailed(ctx context.Context, jobID int64, lastError string) {
	if err := w.queue.MarkFailed(ctx, jobID, lastError); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark job failed",
			"job_id", jobID,
			"error", err,
		)
	}
}

// usable filters deliveries down to recipients with a non-empty email.
func usable(ds []delivery) []delivery {
	out := ds[:0]
	for _, d := range ds {
		if d.recipient.Email != "" {
			out = append(out, d)
		}
	}
	return out
}

// errText prefers the AppError message over the full prefixed rendering so
// log rows carry the short descriptive string.
func errText(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
