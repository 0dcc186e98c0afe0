package models

import "time"

// Settings is the store-wide configuration document edited from the admin panel. There is only one.
type Settings struct {
	StoreName          string    `bson:"storeName" json:"storeName"`
	ContactEmail       string    `bson:"contactEmail" json:"contactEmail"`
	SMTPHost           string    `bson:"smtpHost" json:"smtpHost"`
	SMTPPort           int       `bson:"smtpPort" json:"smtpPort"`
	SMTPUsername       string    `bson:"smtpUsername" json:"smtpUsername"`
	SMTPPassword       string    `bson:"smtpPassword" json:"-"` // sealed when a settings key is configured
	SenderEmail        string    `bson:"senderEmail" json:"senderEmail"`
	OrderNotifications bool      `bson:"orderNotifications" json:"orderNotifications"`
	UpdatedAt          time.Time `bson:"updatedAt" json:"updatedAt"`
}

// DefaultSettings is what GET returns before anything was saved.
func DefaultSettings() *Settings {
	return &Settings{StoreName: "Bookstore", SMTPPort: 587}
}

// MailReady reports whether enough SMTP configuration exists to send mail.
func (s *Settings) MailReady() bool {
	return s != nil && s.SMTPHost != "" && s.SenderEmail != ""
}
