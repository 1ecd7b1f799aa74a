package authkit

import "context"

// MailKind identifies which lifecycle email is being sent.
type MailKind int

const (
	// MailVerifyEmail carries a verification proof token.
	MailVerifyEmail MailKind = iota + 1
	// MailPasswordReset carries a reset proof token.
	MailPasswordReset
	// MailTwoFactorCode carries a one-time login code.
	MailTwoFactorCode
)

func (k MailKind) String() string {
	switch k {
	case MailVerifyEmail:
		return "verify_email"
	case MailPasswordReset:
		return "password_reset"
	case MailTwoFactorCode:
		return "two_factor_code"
	default:
		return "unknown"
	}
}

// MailMessage is handed to the MailSink for delivery. Exactly one of
// Code or Token is set depending on Kind.
type MailMessage struct {
	To       string
	Kind     MailKind
	TenantID string
	Code     string
	Token    string
}

// MailSink delivers lifecycle emails. Implementations own templating and
// transport; the engine only hands over the recipient and the secret.
// Send runs on the dispatcher goroutine, never on a login or register
// call path.
type MailSink interface {
	Send(ctx context.Context, msg MailMessage) error
}

// NoOpMailSink discards every message. Used when no sink is configured.
type NoOpMailSink struct{}

// Send implements MailSink.
func (NoOpMailSink) Send(context.Context, MailMessage) error { return nil }
