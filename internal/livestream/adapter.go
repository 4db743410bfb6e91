package livestream

import (
	"context"
	"time"

	"livesync/internal/youtube"
)

// BroadcastAdapter is the external live-video API as the registry sees it.
// *youtube.Client is the production implementation.
type BroadcastAdapter interface {
	CreateScheduledBroadcast(ctx context.Context, title, description string, scheduled time.Time) (youtube.Provisioned, error)
	TransitionBroadcast(ctx context.Context, broadcastID string, target youtube.TransitionTarget) error
	ListActiveBroadcasts(ctx context.Context) ([]youtube.Broadcast, error)
	ListUpcomingBroadcasts(ctx context.Context) ([]youtube.Broadcast, error)
	GetBroadcast(ctx context.Context, id string) (youtube.Broadcast, error)
	Delete(ctx context.Context, r youtube.Resource) error
}

var _ BroadcastAdapter = (*youtube.Client)(nil)
