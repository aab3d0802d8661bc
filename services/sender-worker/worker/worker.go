package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/internal/dispatch"
	"github.com/Mutter0815/pacedmailer/internal/sender"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
	"github.com/Mutter0815/pacedmailer/pkg/metrics"
	"github.com/Mutter0815/pacedmailer/pkg/model"
	"github.com/Mutter0815/pacedmailer/pkg/rmq"
)

type storeAPI interface {
	GetCampaign(ctx context.Context, id int64) (campaign.Campaign, error)
	GetCampaignLead(ctx context.Context, id int64) (campaign.CampaignLead, error)
}

type completerAPI interface {
	AlreadySent(ctx context.Context, job model.SendJob) (bool, error)
	Complete(ctx context.Context, job model.SendJob, out dispatch.Outcome) error
	Requeue(ctx context.Context, job model.SendJob, reason string) error
}

type Worker struct {
	Store    storeAPI
	Done     completerAPI
	Render   *sender.Renderer
	Sender   sender.Sender
	FromName string
	Cons     *rmq.Consumer
}

func New(st storeAPI, done completerAPI, r *sender.Renderer, s sender.Sender, fromName string, cons *rmq.Consumer) *Worker {
	return &Worker{Store: st, Done: done, Render: r, Sender: s, FromName: fromName, Cons: cons}
}

func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.Cons.Consume()
	if err != nil {
		return err
	}
	logx.L().Infow("worker_started", "queue", w.Cons.Queue)

	for {
		select {
		case <-ctx.Done():
			logx.L().Infow("worker_stopping")
			return ctx.Err()

		case d, ok := <-msgs:
			if !ok {
				logx.L().Warnw("consumer_channel_closed")
				return nil
			}
			start := time.Now()
			metrics.WorkerJobsConsumed.Inc()

			if w.Process(ctx, d.Body) {
				_ = d.Nack(false, true)
			} else {
				_ = d.Ack(false)
			}
			metrics.WorkerProcessDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// Process handles one job and reports whether the delivery should be
// redelivered. Only failures before the send are retried; once the send was
// attempted the job is always acknowledged so it can never go out twice.
func (w *Worker) Process(ctx context.Context, body []byte) (retry bool) {
	var job model.SendJob
	if err := json.Unmarshal(body, &job); err != nil {
		logx.L().Warnw("job_unmarshal_error", "error", err)
		return false
	}
	fields := []any{
		"campaign_id", job.CampaignID,
		"queue_item_id", job.QueueItemID,
		"campaign_lead_id", job.CampaignLeadID,
		"mailbox_id", job.MailboxID,
	}

	ctx1, cancel1 := context.WithTimeout(ctx, 5*time.Second)
	c, err := w.Store.GetCampaign(ctx1, job.CampaignID)
	cancel1()
	if errors.Is(err, campaign.ErrCampaignNotFound) {
		logx.L().Warnw("job_campaign_missing", fields...)
		return false
	}
	if err != nil {
		logx.L().Errorw("db_get_campaign_error", append(fields, "error", err)...)
		return true
	}
	if c.Status != campaign.StatusActive {
		ctx2, cancel2 := context.WithTimeout(ctx, 5*time.Second)
		defer cancel2()
		if err := w.Done.Requeue(ctx2, job, "campaign_"+string(c.Status)); err != nil {
			logx.L().Errorw("job_requeue_error", append(fields, "error", err)...)
			return true
		}
		return false
	}

	ctx3, cancel3 := context.WithTimeout(ctx, 5*time.Second)
	sent, err := w.Done.AlreadySent(ctx3, job)
	cancel3()
	if err != nil {
		logx.L().Errorw("ledger_check_error", append(fields, "error", err)...)
		return true
	}
	if sent {
		return false
	}

	ctx4, cancel4 := context.WithTimeout(ctx, 5*time.Second)
	lead, err := w.Store.GetCampaignLead(ctx4, job.CampaignLeadID)
	cancel4()
	var out dispatch.Outcome
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// lead row deleted: settle the item as failed, never redeliver
		logx.L().Warnw("job_lead_missing", fields...)
		out.Err = err
	case err != nil:
		logx.L().Errorw("db_get_lead_error", append(fields, "error", err)...)
		return true
	}

	if out.Err == nil {
		msg, err := w.Render.Render(c, lead)
		if err != nil {
			out.Err = err
		} else {
			msg.FromName = w.FromName
			mb := campaign.Mailbox{ID: job.MailboxID, OwnerID: c.OwnerID, Email: job.MailboxEmail}
			res, sendErr := w.Sender.Send(ctx, msg, mb)
			out = dispatch.Outcome{MessageID: res.MessageID, SentAt: res.SentAt, Err: sendErr}
		}
	}

	if out.Err != nil {
		metrics.WorkerJobsFailed.Inc()
		logx.L().Infow("send_failed", append(fields, "error", out.Err)...)
	} else {
		metrics.WorkerJobsSent.Inc()
		logx.L().Infow("send_success", append(fields, "message_id", out.MessageID)...)
	}

	ctx5, cancel5 := context.WithTimeout(ctx, 10*time.Second)
	defer cancel5()
	if err := w.Done.Complete(ctx5, job, out); err != nil {
		logx.L().Errorw("complete_error", append(fields, "error", err)...)
	}
	return false
}
