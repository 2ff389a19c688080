// README: SMS delivery for phone verification codes via Twilio.
package infra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"wander/internal/modules/verification"
)

type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{client: client, from: from}
}

func (s *TwilioSender) Send(ctx context.Context, to, body string) (verification.SMSResult, error) {
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	type result struct {
		res verification.SMSResult
		err error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := s.client.Api.CreateMessage(params)
		if err != nil {
			ch <- result{err: fmt.Errorf("twilio create message: %w", err)}
			return
		}
		var r verification.SMSResult
		if resp.Sid != nil {
			r.Reference = *resp.Sid
		}
		if resp.Status != nil {
			r.Status = *resp.Status
		}
		ch <- result{res: r}
	}()

	select {
	case <-ctx.Done():
		return verification.SMSResult{}, ctx.Err()
	case r := <-ch:
		return r.res, r.err
	}
}

// LogSender logs messages instead of sending them.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s LogSender) Send(_ context.Context, to, body string) (verification.SMSResult, error) {
	ref := "MOCK_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	s.Log.WithFields(logrus.Fields{"to": to, "ref": ref}).Info(body)
	return verification.SMSResult{Reference: ref, Status: "mock"}, nil
}
