package workflow

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

// Notifier surfaces a paused workflow to a human.
type Notifier interface {
	EscalateToHuman(ctx context.Context, rec *relational.Recommendation, decision Decision, votes []Vote) error
}

// NewNotifier returns the mail notifier when SMTP is configured, else a
// log-only fallback.
func NewNotifier(cfg config.SMTPConfig) Notifier {
	if cfg.Enabled() {
		return &MailNotifier{
			cfg:    cfg,
			dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
			log:    logger.New("notifier"),
		}
	}
	return &LogNotifier{log: logger.New("notifier")}
}

// MailNotifier emails the operators when a workflow needs a human.
type MailNotifier struct {
	cfg    config.SMTPConfig
	dialer *gomail.Dialer
	log    logger.Logger
}

func (n *MailNotifier) EscalateToHuman(_ context.Context, rec *relational.Recommendation, decision Decision, votes []Vote) error {
	var body strings.Builder
	fmt.Fprintf(&body, "Recommendation %s is paused and needs review.\n\n", rec.ID)
	fmt.Fprintf(&body, "Customer: %s\nAgent: %s\nTitle: %s\n\n%s\n\n", rec.CustomerID, rec.AgentType, rec.Title, rec.Description)
	fmt.Fprintf(&body, "Decision: %s\n\nVotes:\n", decision.Reason())
	for _, v := range votes {
		fmt.Fprintf(&body, "  %s: approved=%t confidence=%.2f %s\n", v.AgentType, v.Approved, v.Confidence, v.Rationale)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", n.cfg.Recipients...)
	m.SetHeader("Subject", fmt.Sprintf("[optiinfra] approval needed: %s", rec.Title))
	m.SetBody("text/plain", body.String())

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send escalation mail: %w", err)
	}
	n.log.Info("escalation mail sent", logger.String("recommendation_id", rec.ID.String()))
	return nil
}

// LogNotifier records the escalation in the log only.
type LogNotifier struct {
	log logger.Logger
}

func (n *LogNotifier) EscalateToHuman(_ context.Context, rec *relational.Recommendation, decision Decision, _ []Vote) error {
	n.log.Warn("workflow awaiting human approval",
		logger.String("recommendation_id", rec.ID.String()),
		logger.String("title", rec.Title),
		logger.String("reason", decision.Reason()))
	return nil
}
