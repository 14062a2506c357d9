package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/odyssey-erp/royalty/internal/jobs"
	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/internal/shared"
)

// MailSource loads the records referenced by mail tasks.
type MailSource interface {
	GetReceipt(ctx context.Context, id uuid.UUID) (royalty.Receipt, error)
	GetPayment(ctx context.Context, id uuid.UUID) (royalty.PaymentView, error)
}

// Message is a rendered email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of delivering them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail", slog.String("from", msg.From), slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

// MailJob renders and sends receipt and due-notice emails.
type MailJob struct {
	Source  MailSource
	Mailer  Mailer
	From    string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// Location renders dates in the billing time zone.
	Location *time.Location
}

// NewMailJob wires dependencies for the mail handlers.
func NewMailJob(source MailSource, mailer Mailer, from string, loc *time.Location, logger *slog.Logger, metrics *jobmetrics.Metrics) *MailJob {
	return &MailJob{Source: source, Mailer: mailer, From: from, Location: loc, Logger: logger, Metrics: metrics}
}

// HandleReceipt processes TaskReceiptEmail.
func (j *MailJob) HandleReceipt(ctx context.Context, task *asynq.Task) (resultErr error) {
	var payload ReceiptEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if j == nil || j.Source == nil || j.Mailer == nil {
		return errors.New("receipt email: mail job not configured")
	}
	tracker := j.metrics().Track(TaskReceiptEmail)
	defer func() { resultErr = tracker.End(resultErr) }()

	receipt, err := j.Source.GetReceipt(ctx, payload.ReceiptID)
	if err != nil {
		return skipMissing(err)
	}
	payment, err := j.Source.GetPayment(ctx, receipt.PaymentID)
	if err != nil {
		return skipMissing(err)
	}

	var body strings.Builder
	p := printer()
	p.Fprintf(&body, "Official receipt %s\n\n", receipt.ReceiptNumber)
	p.Fprintf(&body, "Branch: %s (%s)\n", payment.BranchName, payment.BranchCode)
	p.Fprintf(&body, "Period: %s\n", receipt.PeriodLabel)
	p.Fprintf(&body, "Amount received: %s\n", formatAmount(p, receipt.Amount))
	p.Fprintf(&body, "Payment method: %s\n", receipt.PaymentMethod)
	if receipt.PaymentReference != "" {
		p.Fprintf(&body, "Reference: %s\n", receipt.PaymentReference)
	}
	p.Fprintf(&body, "Issued: %s\n", receipt.IssuedAt.In(j.location()).Format("January 2, 2006"))

	msg := Message{
		From:    j.From,
		To:      payload.To,
		Subject: fmt.Sprintf("Royalty receipt %s", receipt.ReceiptNumber),
		Body:    body.String(),
	}
	if err := j.Mailer.Send(ctx, msg); err != nil {
		j.log(TaskReceiptEmail).Warn("send receipt", slog.String("receipt", receipt.ReceiptNumber), slog.Any("error", err))
		return err
	}
	return nil
}

// HandleDueNotice processes TaskDueNotice. Payments settled or waived after the
// notice was queued are skipped.
func (j *MailJob) HandleDueNotice(ctx context.Context, task *asynq.Task) (resultErr error) {
	var payload DueNoticePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if j == nil || j.Source == nil || j.Mailer == nil {
		return errors.New("due notice: mail job not configured")
	}
	tracker := j.metrics().Track(TaskDueNotice)
	defer func() { resultErr = tracker.End(resultErr) }()

	payment, err := j.Source.GetPayment(ctx, payload.PaymentID)
	if err != nil {
		return skipMissing(err)
	}
	if !payment.IsOpen() {
		j.log(TaskDueNotice).Info("payment no longer open", slog.String("payment_id", payment.ID.String()), slog.String("status", string(payment.Status)))
		return nil
	}

	loc := j.location()
	var body strings.Builder
	p := printer()
	p.Fprintf(&body, "Royalty payment reminder for %s (%s)\n\n", payment.BranchName, payment.BranchCode)
	p.Fprintf(&body, "Period: %s\n", payment.PeriodLabel)
	p.Fprintf(&body, "Gross revenue: %s\n", formatAmount(p, payment.GrossRevenue))
	p.Fprintf(&body, "Royalty: %s\n", formatAmount(p, payment.Amount))
	if payment.LateFee.IsPositive() {
		p.Fprintf(&body, "Late fee: %s\n", formatAmount(p, payment.LateFee))
	}
	p.Fprintf(&body, "Total due: %s\n", formatAmount(p, payment.TotalDue))
	p.Fprintf(&body, "Due date: %s\n", payment.DueDate.In(loc).Format("January 2, 2006"))
	if payment.Status == royalty.StatusOverdue {
		p.Fprintf(&body, "This payment is overdue since %s.\n", payment.GracePeriodEnd.In(loc).Format("January 2, 2006"))
	}

	subject := fmt.Sprintf("Royalty due for %s", payment.PeriodLabel)
	if payment.Status == royalty.StatusOverdue {
		subject = fmt.Sprintf("Overdue royalty for %s", payment.PeriodLabel)
	}
	msg := Message{From: j.From, To: payload.To, Subject: subject, Body: body.String()}
	if err := j.Mailer.Send(ctx, msg); err != nil {
		j.log(TaskDueNotice).Warn("send due notice", slog.String("payment_id", payment.ID.String()), slog.Any("error", err))
		return err
	}
	return nil
}

func printer() *message.Printer {
	return message.NewPrinter(language.English)
}

// formatAmount renders a peso amount with digit grouping. The float conversion
// only affects display of amounts beyond fifteen significant digits.
func formatAmount(p *message.Printer, amount decimal.Decimal) string {
	return p.Sprintf("PHP %.2f", amount.Round(2).InexactFloat64())
}

func skipMissing(err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return err
}

func (j *MailJob) location() *time.Location {
	if j.Location != nil {
		return j.Location
	}
	return time.UTC
}

func (j *MailJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *MailJob) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}
