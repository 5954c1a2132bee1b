package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Log.WithFields(logrus.Fields{
		"kind":      n.Kind,
		"recipient": n.RecipientID,
		"entity":    n.EntityKind,
		"entity_id": n.EntityID,
	}).Info("notification")
	return nil
}
