package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"barflow/logger"
)

// Sink delivers run summaries. Delivery failures are logged by the sink
// and never surface to the caller.
type Sink interface {
	Notify(ctx context.Context, subject, body string)
}

// SESAPI is the part of the SES v2 client in use.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESSink struct {
	client      SESAPI
	source      string
	destination string
	log         *logger.Log
}

// NewSESSink builds a sink sending from source to destination. awsCfg
// should already carry the notification region.
func NewSESSink(awsCfg aws.Config, source, destination string, log *logger.Log) *SESSink {
	return NewSESSinkWithClient(sesv2.NewFromConfig(awsCfg), source, destination, log)
}

func NewSESSinkWithClient(client SESAPI, source, destination string, log *logger.Log) *SESSink {
	return &SESSink{client: client, source: source, destination: destination, log: log}
}

func (s *SESSink) Notify(ctx context.Context, subject, body string) {
	log := s.log.WithComponent("notify").WithFields(logger.Fields{
		"subject":     subject,
		"destination": s.destination,
	})

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.source),
		Destination:      &sestypes.Destination{ToAddresses: []string{s.destination}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(body)},
				},
			},
		},
	})
	if err != nil {
		log.WithError(err).Error("failed to send email")
		return
	}
	log.WithFields(logger.Fields{"message_id": aws.ToString(out.MessageId)}).Info("email sent successfully")
}

// LogSink writes the notification to the log instead of sending it.
type LogSink struct {
	log *logger.Log
}

func NewLogSink(log *logger.Log) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, subject, body string) {
	entry := s.log.WithComponent("notify")
	entry.Infof("[SIMULATED EMAIL] Subject: %s", subject)
	entry.Infof("[SIMULATED EMAIL] Body: %s", body)
}
