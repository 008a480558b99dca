package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/observability"
	"github.com/aditya/ridedispatch/pkg/utils"
	"github.com/redis/go-redis/v9"
)

const (
	relayChannel      = "tracking:broadcast"
	subscriberBacklog = 32
)

func RideRoom(rideID string) string     { return "ride:" + rideID }
func DriverRoom(driverID string) string { return "driver:" + driverID }

// Subscriber is one live connection. Send is closed by Rooms.Remove.
type Subscriber struct {
	ID   string
	Send chan []byte

	rooms map[string]struct{} // guarded by Rooms.mu
}

func NewSubscriber() *Subscriber {
	return &Subscriber{
		ID:    utils.PrefixedID("sub"),
		Send:  make(chan []byte, subscriberBacklog),
		rooms: make(map[string]struct{}),
	}
}

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// Rooms fans messages out to subscribers grouped by room. With a Redis client
// every broadcast is mirrored to the other instances.
type Rooms struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Subscriber]struct{}
	redis    *redis.Client
	instance string
	logger   *slog.Logger
}

func NewRooms(redisClient *redis.Client, logger *slog.Logger) *Rooms {
	return &Rooms{
		rooms:    make(map[string]map[*Subscriber]struct{}),
		redis:    redisClient,
		instance: utils.PrefixedID("node"),
		logger:   logger,
	}
}

// Join adds sub to room. It returns false when sub was already a member.
func (r *Rooms) Join(sub *Subscriber, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := sub.rooms[room]; ok {
		return false
	}
	members := r.rooms[room]
	if members == nil {
		members = make(map[*Subscriber]struct{})
		r.rooms[room] = members
	}
	members[sub] = struct{}{}
	sub.rooms[room] = struct{}{}
	observability.TrackingRooms.Set(float64(len(r.rooms)))
	return true
}

func (r *Rooms) Leave(sub *Subscriber, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sub, room)
}

func (r *Rooms) leaveLocked(sub *Subscriber, room string) {
	delete(sub.rooms, room)
	if members, ok := r.rooms[room]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	observability.TrackingRooms.Set(float64(len(r.rooms)))
}

// Remove drops sub from every room and closes its channel.
func (r *Rooms) Remove(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range sub.rooms {
		r.leaveLocked(sub, room)
	}
	close(sub.Send)
}

func (r *Rooms) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// deliver sends msg to local members of room. Slow subscribers miss the message.
func (r *Rooms) deliver(room string, msg []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for sub := range r.rooms[room] {
		select {
		case sub.Send <- msg:
			sent++
		default:
			r.logger.Warn("subscriber too slow, dropping message", "room", room, "subscriber", sub.ID)
		}
	}
	return sent
}

// Broadcast delivers msg locally and relays it to other instances.
func (r *Rooms) Broadcast(ctx context.Context, room string, msg []byte) {
	r.deliver(room, msg)
	if r.redis == nil {
		return
	}
	env, err := json.Marshal(relayEnvelope{Origin: r.instance, Room: room, Payload: msg})
	if err != nil {
		return
	}
	if err := r.redis.Publish(ctx, relayChannel, env).Err(); err != nil {
		r.logger.Error("relay publish failed", "room", room, "err", err)
	}
}

// Publish routes a ride event to its rooms. Dispatch offers go only to the
// target driver; assignment and cancellation reach both sides.
func (r *Rooms) Publish(ctx context.Context, event models.Event) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, room := range roomsFor(event) {
		r.Broadcast(ctx, room, msg)
	}
	return nil
}

func roomsFor(event models.Event) []string {
	var rooms []string
	if event.RideID != "" && event.Type != models.EventNewRideRequest {
		rooms = append(rooms, RideRoom(event.RideID))
	}
	if event.DriverID != "" {
		switch event.Type {
		case models.EventNewRideRequest, models.EventRideAssigned, models.EventRideCancelled:
			rooms = append(rooms, DriverRoom(event.DriverID))
		}
	}
	return rooms
}

// RunRelay re-delivers broadcasts from other instances until ctx is done.
func (r *Rooms) RunRelay(ctx context.Context) {
	if r.redis == nil {
		return
	}
	pubsub := r.redis.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			if env.Origin == r.instance {
				continue
			}
			r.deliver(env.Room, env.Payload)
		}
	}
}
