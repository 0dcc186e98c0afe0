package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mail "github.com/go-mail/mail/v2"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/utils"
)

// ErrMailDisabled is returned when SMTP is not configured or the notification is switched off.
var ErrMailDisabled = errors.New("mail is not configured")

type SettingsSource interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
}

type EmailLogger interface {
	InsertEmailLog(ctx context.Context, log *models.EmailLog) error
}

// Mailer sends transactional email over the SMTP server saved in the store settings.
type Mailer struct {
	settings    SettingsSource
	logs        EmailLogger
	sealer      *utils.Sealer
	frontendURL string
	log         logrus.FieldLogger
	now         func() time.Time
	send        func(d *mail.Dialer, m *mail.Message) error
}

func NewMailer(settings SettingsSource, logs EmailLogger, sealer *utils.Sealer, frontendURL string, log logrus.FieldLogger) *Mailer {
	return &Mailer{
		settings:    settings,
		logs:        logs,
		sealer:      sealer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         log,
		now:         time.Now,
		send:        func(d *mail.Dialer, m *mail.Message) error { return d.DialAndSend(m) },
	}
}

type outgoing struct {
	kind    string
	to      string
	subject string
	text    string
	user    primitive.ObjectID
	order   string
}

// deliver sends msg and records the attempt in the email log whatever the outcome.
func (m *Mailer) deliver(ctx context.Context, s *models.Settings, msg outgoing) error {
	password, err := m.sealer.Open(s.SMTPPassword)
	if err != nil {
		return fmt.Errorf("open smtp password: %w", err)
	}

	mm := mail.NewMessage()
	mm.SetAddressHeader("From", s.SenderEmail, s.StoreName)
	mm.SetHeader("To", msg.to)
	mm.SetHeader("Subject", msg.subject)
	mm.SetBody("text/plain", msg.text)

	d := mail.NewDialer(s.SMTPHost, s.SMTPPort, s.SMTPUsername, password)
	d.Timeout = 15 * time.Second
	if s.SMTPPort == 587 {
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	sendErr := m.send(d, mm)

	entry := &models.EmailLog{
		Kind:    msg.kind,
		To:      msg.to,
		Subject: msg.subject,
		OrderID: msg.order,
		SentAt:  m.now(),
	}
	if !msg.user.IsZero() {
		id := msg.user
		entry.UserID = &id
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if err := m.logs.InsertEmailLog(ctx, entry); err != nil {
		m.log.WithError(err).WithField("kind", msg.kind).Warn("failed to insert email log")
	}
	if sendErr != nil {
		return fmt.Errorf("send %s: %w", msg.kind, sendErr)
	}
	m.log.WithFields(logrus.Fields{"kind": msg.kind, "to": msg.to}).Info("email sent")
	return nil
}

func (m *Mailer) loadSettings(ctx context.Context) (*models.Settings, error) {
	s, err := m.settings.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if !s.MailReady() {
		return nil, ErrMailDisabled
	}
	return s, nil
}

// OrderConfirmation emails the customer a summary of a newly placed order.
func (m *Mailer) OrderConfirmation(ctx context.Context, user *models.User, order *models.Order) error {
	s, err := m.loadSettings(ctx)
	if err != nil {
		return err
	}
	if !s.OrderNotifications || !user.Preferences.Notifications {
		return ErrMailDisabled
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for your order %s.\n\n", user.Name, order.OrderID)
	for _, it := range order.Items {
		fmt.Fprintf(&b, "  %d x %s  $%.2f\n", it.Quantity, it.Title, it.Price*float64(it.Quantity))
	}
	fmt.Fprintf(&b, "\nTotal: $%.2f\n", order.Total)
	a := order.ShippingAddress
	fmt.Fprintf(&b, "\nShipping to:\n%s %s\n%s\n%s, %s %s\n", a.FirstName, a.LastName, a.Address, a.City, a.State, a.ZipCode)
	if m.frontendURL != "" {
		fmt.Fprintf(&b, "\nTrack it at %s/orders/%s\n", m.frontendURL, order.ID.Hex())
	}
	fmt.Fprintf(&b, "\n%s\n", s.StoreName)

	return m.deliver(ctx, s, outgoing{
		kind:    models.EmailOrderConfirmation,
		to:      user.Email,
		subject: fmt.Sprintf("%s: order %s confirmed", s.StoreName, order.OrderID),
		text:    b.String(),
		user:    user.ID,
		order:   order.OrderID,
	})
}

// PasswordReset emails the link carrying the plain reset token.
func (m *Mailer) PasswordReset(ctx context.Context, user *models.User, token string, expires time.Duration) error {
	s, err := m.loadSettings(ctx)
	if err != nil {
		return err
	}
	link := m.frontendURL + "/reset-password?token=" + token
	text := fmt.Sprintf("Hi %s,\n\nSomeone asked to reset the password of your %s account.\n"+
		"Open the link below within %d minutes to choose a new one:\n\n%s\n\n"+
		"If it was not you, ignore this email.\n", user.Name, s.StoreName, int(expires.Minutes()), link)

	return m.deliver(ctx, s, outgoing{
		kind:    models.EmailPasswordReset,
		to:      user.Email,
		subject: s.StoreName + ": reset your password",
		text:    text,
		user:    user.ID,
	})
}
