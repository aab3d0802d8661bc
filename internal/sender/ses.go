package sender

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/Mutter0815/pacedmailer/internal/campaign"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends through AWS SES v2. The mailbox address is used as the sender.
type SES struct {
	client sesAPI
}

// NewSES builds a client from static credentials when given, otherwise from
// the default AWS credential chain.
func NewSES(ctx context.Context, region, accessKey, secretKey string) (*SES, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(cfg)}, nil
}

func (s *SES) Send(ctx context.Context, msg Message, mb campaign.Mailbox) (Result, error) {
	if mb.Email == "" {
		return Result{}, errors.New("ses: mailbox has no address")
	}
	from := mb.Email
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, mb.Email)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(strconv.FormatInt(msg.CampaignID, 10))},
			{Name: aws.String("lead_id"), Value: aws.String(strconv.FormatInt(msg.LeadID, 10))},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		logx.L().Warnw("ses_send_error", "campaign_id", msg.CampaignID, "mailbox_id", mb.ID, "error", err)
		return Result{}, err
	}
	return Result{MessageID: aws.ToString(out.MessageId), SentAt: time.Now()}, nil
}
