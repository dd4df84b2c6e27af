package local

import "context"

// Mailer delivers verification emails. Production deployments plug in a
// real transport; the default logs the link, which is enough for local
// development where the operator clicks it by hand.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type logMailer struct {
	logger Logger
}

func (m logMailer) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("verification email", "to", to, "subject", subject, "body", body)
	return nil
}
