package application

import (
	"context"

	"github.com/pubflow/publications-platform/internal/notification/domain"
)

type NotificationRepository interface {
	Save(ctx context.Context, n domain.Notification) error
}
