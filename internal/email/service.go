// Package email delivers order notifications over SMTP.
package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/example/ec-fulfillment/internal/notification"
	"go.uber.org/zap"
)

// Config holds SMTP settings. Username and Password are optional.
type Config struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending via SMTP
type Service struct {
	cfg    Config
	send   SendFunc
	logger *zap.Logger
}

// NewService creates a new email service
func NewService(cfg Config, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		send:   smtp.SendMail,
		logger: logger.Named("email"),
	}
}

// WithSender replaces the SMTP transport.
func (s *Service) WithSender(fn SendFunc) *Service {
	s.send = fn
	return s
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(ctx context.Context, msg notification.OrderConfirmation) error {
	subject := fmt.Sprintf("Order Confirmed - %s", msg.OrderNumber)
	return s.deliver(ctx, msg.To, subject, BuildOrderConfirmationBody(msg))
}

// SendOrderShipped sends a shipment notice
func (s *Service) SendOrderShipped(ctx context.Context, msg notification.OrderShipped) error {
	subject := fmt.Sprintf("Your Order Has Shipped - %s", msg.OrderNumber)
	return s.deliver(ctx, msg.To, subject, BuildOrderShippedBody(msg))
}

func (s *Service) deliver(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("email: no recipient for %q", subject)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.cfg.From, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		s.logger.Error("smtp send failed", zap.String("to", to), zap.Error(err))
		return err
	}
	return nil
}
