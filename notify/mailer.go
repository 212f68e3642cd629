package notify

import (
	"fmt"
	"net/smtp"
	"os"
	"strings"
)

// Mailer sends transactional mail over SMTP. It is a fire-and-forget
// collaborator: callers log failures and never let them affect donation
// state.
type Mailer struct {
	Host       string
	Port       string
	Username   string
	Password   string
	From       string
	AdminEmail string
}

// NewFromEnv reads SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, SMTP_FROM and
// ADMIN_EMAIL.
func NewFromEnv() *Mailer {
	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}
	return &Mailer{
		Host:       os.Getenv("SMTP_HOST"),
		Port:       port,
		Username:   os.Getenv("SMTP_USER"),
		Password:   os.Getenv("SMTP_PASS"),
		From:       os.Getenv("SMTP_FROM"),
		AdminEmail: os.Getenv("ADMIN_EMAIL"),
	}
}

// SendThankYou mails the donor a receipt for a completed donation.
func (m *Mailer) SendThankYou(donorEmail, donorName, receiptNo string, amount float64) error {
	subject := "Thank you for your donation"
	body := fmt.Sprintf(
		"Dear %s,\r\n\r\nThank you for your generous donation of Rs. %.2f.\r\nYour receipt number is %s.\r\n\r\nWith gratitude,\r\nShree Gomata Seva Trust\r\n",
		donorName, amount, receiptNo)
	return m.send([]string{donorEmail}, subject, body)
}

// SendAdminNotification informs the trust admin of a completed donation.
func (m *Mailer) SendAdminNotification(receiptNo, donorName, donorEmail string, amount float64) error {
	if m.AdminEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("Donation received: %s", receiptNo)
	body := fmt.Sprintf(
		"Donation %s completed.\r\nDonor: %s <%s>\r\nAmount: Rs. %.2f\r\n",
		receiptNo, donorName, donorEmail, amount)
	return m.send([]string{m.AdminEmail}, subject, body)
}

func (m *Mailer) send(to []string, subject, body string) error {
	if m.Host == "" || m.From == "" {
		return fmt.Errorf("mailer not configured (SMTP_HOST/SMTP_FROM missing)")
	}
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := m.Host + ":" + m.Port
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	if err := smtp.SendMail(addr, auth, m.From, to, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %v: %w", to, err)
	}
	return nil
}
