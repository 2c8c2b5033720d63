package messaging

import (
	"github.com/sirupsen/logrus"

	"postureguard-server/pkg/analysis"
)

// AMQPResultListener bridges the analysis fan-out to the AMQP queue so
// every classified frame of a live session reaches downstream consumers.
type AMQPResultListener struct {
	logger *logrus.Logger
	client *AMQPClient
}

// NewAMQPResultListener creates a listener publishing through the client.
func NewAMQPResultListener(logger *logrus.Logger, client *AMQPClient) *AMQPResultListener {
	return &AMQPResultListener{
		logger: logger,
		client: client,
	}
}

// OnResult publishes one posture result. Broker trouble is logged and
// dropped; the analysis path never sees it.
func (l *AMQPResultListener) OnResult(sessionID string, activity analysis.Activity, result *analysis.Result) {
	if result == nil {
		return
	}

	if !l.client.IsConnected() {
		l.logger.WithField("session_id", sessionID).Warn("Cannot publish posture event: AMQP client not connected")
		return
	}

	event := PostureEvent{
		SessionID:  sessionID,
		Timestamp:  result.Timestamp,
		Activity:   activity.String(),
		Status:     result.Status.String(),
		Warnings:   result.Warnings,
		Confidence: result.Confidence,
	}

	if err := l.client.PublishResult(event); err != nil {
		l.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"error":      err.Error(),
		}).Error("Failed to publish posture event to AMQP")
	}
}
