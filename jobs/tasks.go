package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/royalty/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMail carries outbound notifications so a mail backlog never delays billing.
	QueueMail = "mail"

	// TaskRoyaltyGenerate bills every elapsed, unbilled royalty period.
	TaskRoyaltyGenerate = "royalty:generate"
	// TaskRoyaltySweep moves due payments past their grace period to overdue.
	TaskRoyaltySweep = "royalty:sweep"
	// TaskLedgerVerify replays the posting journal against stored balances.
	TaskLedgerVerify = "ledger:verify"
	// TaskReceiptEmail sends an official receipt to a branch administrator.
	TaskReceiptEmail = "mail:receipt"
	// TaskDueNotice reminds a branch administrator of an open royalty payment.
	TaskDueNotice = "mail:due_notice"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReceiptEmailPayload identifies the receipt to mail.
type ReceiptEmailPayload struct {
	To        string    `json:"to"`
	ReceiptID uuid.UUID `json:"receipt_id"`
}

// DueNoticePayload identifies the payment to remind about.
type DueNoticePayload struct {
	To        string    `json:"to"`
	PaymentID uuid.UUID `json:"payment_id"`
}

// NewReceiptEmailTask constructs an Asynq task.
func NewReceiptEmailTask(payload ReceiptEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceiptEmail, data, asynq.Queue(QueueMail), asynq.MaxRetry(5)), nil
}

// NewDueNoticeTask constructs an Asynq task.
func NewDueNoticeTask(payload DueNoticePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDueNotice, data, asynq.Queue(QueueMail), asynq.MaxRetry(5)), nil
}

// NewRoyaltyGenerateTask constructs the scheduled billing task.
func NewRoyaltyGenerateTask() *asynq.Task {
	return asynq.NewTask(TaskRoyaltyGenerate, nil, asynq.Queue(QueueDefault))
}

// NewRoyaltySweepTask constructs the scheduled overdue sweep task.
func NewRoyaltySweepTask() *asynq.Task {
	return asynq.NewTask(TaskRoyaltySweep, nil, asynq.Queue(QueueDefault))
}

// NewLedgerVerifyTask constructs the scheduled ledger verification task.
func NewLedgerVerifyTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerVerify, nil, asynq.Queue(QueueDefault))
}
