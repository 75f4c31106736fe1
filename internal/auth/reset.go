package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/samber/oops"

	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/model"
)

const (
	DefaultOTPTTL   = 15 * time.Minute
	DefaultResetTTL = 15 * time.Minute
	// MaxOTPAttempts is the number of wrong guesses that burns a code.
	MaxOTPAttempts  = 5
	resetTokenBytes = 32
)

// Notifier delivers one-time codes to users.
type Notifier interface {
	SendOTP(ctx context.Context, email, code string, ttl time.Duration) error
}

type OTPRepository interface {
	Create(ctx context.Context, email, codeHash string, expiresAt time.Time) (*model.OTPCode, error)
	GetActive(ctx context.Context, email string, now time.Time) (*model.OTPCode, error)
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	MarkUsed(ctx context.Context, id int64, at time.Time) (bool, error)
}

type ResetRepository interface {
	Create(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) (*model.PasswordReset, error)
	GetByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*model.PasswordReset, error)
	DeleteByUser(ctx context.Context, userID int64) error
}

// ResetService runs the forgot-password flow: a mailed one-time code is
// exchanged for a short-lived reset token, which authorizes one password
// change.
type ResetService struct {
	users       UserRepository
	otps        OTPRepository
	resets      ResetRepository
	credentials *CredentialService
	notifier    Notifier
	otpTTL      time.Duration
	resetTTL    time.Duration
	now         func() time.Time
}

func NewResetService(
	users UserRepository,
	otps OTPRepository,
	resets ResetRepository,
	credentials *CredentialService,
	notifier Notifier,
	otpTTL, resetTTL time.Duration,
) *ResetService {
	if otpTTL <= 0 {
		otpTTL = DefaultOTPTTL
	}
	if resetTTL <= 0 {
		resetTTL = DefaultResetTTL
	}
	return &ResetService{
		users:       users,
		otps:        otps,
		resets:      resets,
		credentials: credentials,
		notifier:    notifier,
		otpTTL:      otpTTL,
		resetTTL:    resetTTL,
		now:         time.Now,
	}
}

// generateCode returns a 6-digit numeric code (100000-999999).
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func hashCode(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func invalidCode(email string) error {
	return oops.Code(errutil.CodeInvalidCode).Public("invalid or expired code").With("email", email).Errorf("otp mismatch")
}

// RequestOTP issues a fresh code for a registered email, replacing any
// pending one, and hands it to the notifier.
func (s *ResetService) RequestOTP(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return oops.Code(errutil.CodeInternal).With("operation", "lookup user").Wrap(err)
	}
	if u == nil {
		return oops.Code(errutil.CodeNotFound).Public("user not found").With("email", email).Errorf("no such user")
	}

	code, err := generateCode()
	if err != nil {
		return oops.Code(errutil.CodeInternal).With("operation", "generate otp").Wrap(err)
	}
	if _, err := s.otps.Create(ctx, email, hashCode(email, code), s.now().Add(s.otpTTL)); err != nil {
		return oops.Code(errutil.CodeInternal).With("operation", "store otp").Wrap(err)
	}

	if err := s.notifier.SendOTP(ctx, email, code, s.otpTTL); err != nil {
		return oops.Code(errutil.CodeDependency).
			Public("failed to send reset code").
			With("email", email).
			Wrap(err)
	}
	return nil
}

// VerifyOTP consumes a matching code and returns a reset token. A wrong
// guess leaves the code usable until MaxOTPAttempts is reached.
func (s *ResetService) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	email = NormalizeEmail(email)
	now := s.now()

	otp, err := s.otps.GetActive(ctx, email, now)
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "lookup otp").Wrap(err)
	}
	if otp == nil {
		return "", invalidCode(email)
	}
	if otp.Attempts >= MaxOTPAttempts {
		if _, err := s.otps.MarkUsed(ctx, otp.ID, now); err != nil {
			return "", oops.Code(errutil.CodeInternal).With("operation", "burn otp").Wrap(err)
		}
		return "", tooManyAttempts(email)
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(email, code)), []byte(otp.CodeHash)) != 1 {
		attempts, err := s.otps.IncrementAttempts(ctx, otp.ID)
		if err != nil {
			return "", oops.Code(errutil.CodeInternal).With("operation", "record otp attempt").Wrap(err)
		}
		if attempts >= MaxOTPAttempts {
			if _, err := s.otps.MarkUsed(ctx, otp.ID, now); err != nil {
				return "", oops.Code(errutil.CodeInternal).With("operation", "burn otp").Wrap(err)
			}
			return "", tooManyAttempts(email)
		}
		return "", invalidCode(email)
	}

	used, err := s.otps.MarkUsed(ctx, otp.ID, now)
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "consume otp").Wrap(err)
	}
	if !used {
		return "", invalidCode(email)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "lookup user").Wrap(err)
	}
	if u == nil {
		return "", oops.Code(errutil.CodeNotFound).Public("user not found").With("email", email).Errorf("no such user")
	}

	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "generate reset token").Wrap(err)
	}
	token := hex.EncodeToString(b)
	if _, err := s.resets.Create(ctx, u.ID, hashResetToken(token), now.Add(s.resetTTL)); err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "store reset token").Wrap(err)
	}
	return token, nil
}

func tooManyAttempts(email string) error {
	return oops.Code(errutil.CodeTooManyAttempts).
		Public("too many attempts, request a new code").
		With("email", email).
		Errorf("otp burned")
}

// ResetPassword sets a new password when resetToken was issued to email by
// VerifyOTP and is still live. All of the user's reset tokens are then
// discarded.
func (s *ResetService) ResetPassword(ctx context.Context, email, resetToken, password string) error {
	email = NormalizeEmail(email)

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return oops.Code(errutil.CodeInternal).With("operation", "lookup user").Wrap(err)
	}
	if u == nil {
		return oops.Code(errutil.CodeNotFound).Public("user not found").With("email", email).Errorf("no such user")
	}

	if resetToken == "" {
		return invalidResetToken(u.ID)
	}
	r, err := s.resets.GetByTokenHash(ctx, hashResetToken(resetToken), s.now())
	if err != nil {
		return oops.Code(errutil.CodeInternal).With("operation", "lookup reset token").Wrap(err)
	}
	if r == nil || r.UserID != u.ID {
		return invalidResetToken(u.ID)
	}

	if err := s.credentials.ResetPassword(ctx, email, password); err != nil {
		return err
	}
	if err := s.resets.DeleteByUser(ctx, u.ID); err != nil {
		return oops.Code(errutil.CodeInternal).With("operation", "discard reset tokens").Wrap(err)
	}
	return nil
}

func invalidResetToken(userID int64) error {
	return oops.Code(errutil.CodeInvalidCode).
		Public("invalid or expired reset token").
		With("user_id", userID).
		Errorf("reset token rejected")
}
