package model

import "time"

// Property is the replicated entity. A row's version strictly increases by 1
// on every accepted local write and is the sole conflict-resolution signal
// across regions.
type Property struct {
	ID           int64     `json:"id"`
	Price        float64   `json:"price"`
	Bedrooms     int32     `json:"bedrooms"`
	Bathrooms    float64   `json:"bathrooms"`
	RegionOrigin string    `json:"region_origin"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReplicationEvent is the replication log message schema: the full post-update
// row, one message per accepted write, shared by all regions.
type ReplicationEvent struct {
	ID           int64     `json:"id"`
	Price        float64   `json:"price"`
	Bedrooms     int32     `json:"bedrooms"`
	Bathrooms    float64   `json:"bathrooms"`
	RegionOrigin string    `json:"region_origin"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EventFromProperty builds the replication payload for an accepted write.
func EventFromProperty(p *Property) ReplicationEvent {
	return ReplicationEvent{
		ID:           p.ID,
		Price:        p.Price,
		Bedrooms:     p.Bedrooms,
		Bathrooms:    p.Bathrooms,
		RegionOrigin: p.RegionOrigin,
		Version:      p.Version,
		UpdatedAt:    p.UpdatedAt,
	}
}

// Property converts the event back into the row stored by the applier.
func (e ReplicationEvent) Property() *Property {
	return &Property{
		ID:           e.ID,
		Price:        e.Price,
		Bedrooms:     e.Bedrooms,
		Bathrooms:    e.Bathrooms,
		RegionOrigin: e.RegionOrigin,
		Version:      e.Version,
		UpdatedAt:    e.UpdatedAt,
	}
}

// OutboxEvent is a pending replication message recorded in the same
// transaction as the write that produced it. The relay locks a batch,
// publishes it, and removes rows only after the log has accepted them.
type OutboxEvent struct {
	EventID    string
	Payload    ReplicationEvent
	LockedBy   string
	CreatedAt  time.Time
	PropertyID int64
}
