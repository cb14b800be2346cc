package domain

import "time"

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

const (
	EntityUser = "user"
	EntityCar  = "car"
)

// Event 推送给订阅方的变更；Data 不含图片字节和密码哈希
type Event struct {
	Type    string    `json:"event"`
	Kind    EventKind `json:"kind"`
	Entity  string    `json:"entity"`
	ID      uint      `json:"id"`
	OwnerID uint      `json:"ownerId,omitempty"`
	Data    any       `json:"data"`
	At      time.Time `json:"at"`
}

func NewEvent(entity string, kind EventKind, id, ownerID uint, data any) Event {
	return Event{
		Type:    entity + "-" + string(kind),
		Kind:    kind,
		Entity:  entity,
		ID:      id,
		OwnerID: ownerID,
		Data:    data,
		At:      time.Now().UTC(),
	}
}
