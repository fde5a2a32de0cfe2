package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/infrastructure/smtp"
	"github.com/voiceid-api/internal/infrastructure/sns"
)

// Alerter notifies users about security-relevant events on their account.
// Delivery is best-effort: a failed alert is logged, never propagated — the
// authentication decision stands regardless.
type Alerter struct {
	sms    sns.SMSSender // may be nil when SNS is unavailable
	mailer smtp.Mailer
}

func NewAlerter(sms sns.SMSSender, mailer smtp.Mailer) *Alerter {
	return &Alerter{sms: sms, mailer: mailer}
}

// VerificationRejected tells the user a verification attempt against their
// account was rejected. Only high-risk reasons (spoof suspicion) are pushed
// over SMS; everything else goes by email.
func (a *Alerter) VerificationRejected(ctx context.Context, u *domain.User, reason string) {
	msg := fmt.Sprintf("A voice verification attempt on your account was rejected (%s). If this wasn't you, contact support.", reason)
	if reason == domain.ReasonSpoof && a.sms != nil && u.Phone != nil {
		if err := a.sms.SendSMS(ctx, *u.Phone, msg); err != nil {
			slog.Warn("failed to send security SMS", "user_id", u.UserID, "err", err)
		}
		return
	}
	if err := a.mailer.SendEmail(u.Email, "Voice verification rejected", msg); err != nil {
		slog.Warn("failed to send security email", "user_id", u.UserID, "err", err)
	}
}

// VoiceprintReplaced tells the user their stored voiceprint was overwritten
// by a new enrollment.
func (a *Alerter) VoiceprintReplaced(ctx context.Context, u *domain.User) {
	body := "Your voiceprint was replaced by a new enrollment. The previous voiceprint was archived. If this wasn't you, contact support immediately."
	if err := a.mailer.SendEmail(u.Email, "Voiceprint replaced", body); err != nil {
		slog.Warn("failed to send voiceprint-replaced email", "user_id", u.UserID, "err", err)
	}
}
