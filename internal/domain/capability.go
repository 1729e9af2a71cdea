package domain

import "context"

// WeatherFetcher returns a ready-to-send weather summary for a location.
type WeatherFetcher interface {
	FetchSummary(ctx context.Context, location string) (string, error)
}

// ReportFetcher returns the structured weather report for a location.
type ReportFetcher interface {
	FetchReport(ctx context.Context, location string) (Report, error)
}

// DeviceOpener acquires a connection to a mesh radio. The caller owns the
// returned Broadcaster and must Close it.
type DeviceOpener interface {
	Open(ctx context.Context) (Broadcaster, error)
}

// Broadcaster sends text to every node on the mesh.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) error
	Close() error
}

// EventPublisher records a completed relay for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event RelayEvent) error
}
