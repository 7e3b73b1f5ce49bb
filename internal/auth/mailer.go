package auth

import (
	"context"

	"accessd.org/internal/obs"
)

// LogMailer is the default Mailer: it records the reset request instead of
// delivering mail. Real SMTP delivery is a deployment concern wired in at
// the process root.
type LogMailer struct{}

func (LogMailer) SendPasswordResetEmail(_ context.Context, email, code string) error {
	obs.LogRequest(map[string]any{
		"level": "info",
		"msg":   "password reset requested",
		"email": email,
		// The reset code itself is a credential; log its length only.
		"code_len": len(code),
	})
	return nil
}
