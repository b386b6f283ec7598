package worker

import (
	"github.com/spec-kit/dealer-support/internal/service"
)

// StartNotificationWorker registers the staff room fan-out handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}
