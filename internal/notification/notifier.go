package notification

import (
	"context"
	"fmt"

	"report_scheduler/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Notifier renders report-ready summaries and hands them to a Sender.
type Notifier struct {
	sender        Sender
	subjectPrefix string
	metrics       *metrics.Metrics
	logger        *logrus.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(sender Sender, subjectPrefix string, m *metrics.Metrics, logger *logrus.Logger) *Notifier {
	return &Notifier{
		sender:        sender,
		subjectPrefix: subjectPrefix,
		metrics:       m,
		logger:        logger,
	}
}

// Subject returns the mail subject for a summary.
func (n *Notifier) Subject(summary *Summary) string {
	subject := "Report ready: " + summary.ReportName()
	if n.subjectPrefix != "" {
		subject = fmt.Sprintf("[%s] %s", n.subjectPrefix, subject)
	}
	return subject
}

// ReportReady renders summary and sends it to recipients.
func (n *Notifier) ReportReady(ctx context.Context, summary *Summary, recipients []string) error {
	logger := n.logger.WithFields(logrus.Fields{
		"report":     summary.ReportName(),
		"recipients": len(recipients),
	})

	body, err := summary.Text()
	if err != nil {
		n.metrics.NotificationSent("render_error")
		logger.WithError(err).Error("Failed to render report notification")
		return err
	}

	msg := Message{
		To:      recipients,
		Subject: n.Subject(summary),
		Body:    body,
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		n.metrics.NotificationSent("failed")
		logger.WithError(err).Error("Failed to send report notification")
		return fmt.Errorf("failed to send report notification: %w", err)
	}

	n.metrics.NotificationSent("sent")
	logger.Info("Report notification sent")
	return nil
}
