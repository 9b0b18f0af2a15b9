package protocol

import (
	"encoding/json"
	"math"
)

// Subscribed tables.
const (
	TablePlayer  = "player"
	TableSource  = "quanta_orb"
	TableStorage = "quanta_storage"
	TableChat    = "chat_message"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// RowEvent is one row-level change inside a TX batch. Old is set for
// UPDATE/DELETE, New for INSERT/UPDATE.
type RowEvent struct {
	Table string          `json:"table"`
	Op    Op              `json:"op"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) DistanceTo(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

type PlayerRow struct {
	PlayerID uint64  `json:"player_id"`
	Name     string  `json:"name"`
	Position Vec3    `json:"position"`
	Yaw      float64 `json:"yaw"`
	Online   bool    `json:"online"`
}

// SourceRow mirrors a quanta orb: an extractable source in the world.
type SourceRow struct {
	OrbID     uint64  `json:"orb_id"`
	Position  Vec3    `json:"position"`
	Frequency float64 `json:"frequency"`
	Remaining uint32  `json:"quanta_amount"`
}

type QuantaSample struct {
	Frequency float64 `json:"frequency"`
	Count     int     `json:"count"`
}

type StorageRow struct {
	StorageID   uint64         `json:"storage_id"`
	OwnerID     uint64         `json:"owner_id"`
	TotalQuanta int            `json:"total_quanta"`
	Samples     []QuantaSample `json:"samples"`
}

type ChatRow struct {
	MessageID  uint64 `json:"message_id"`
	SenderID   uint64 `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	SentAtMs   int64  `json:"sent_at_ms"`
}

func DecodePlayer(raw json.RawMessage) (PlayerRow, error) {
	var r PlayerRow
	err := json.Unmarshal(raw, &r)
	return r, err
}

func DecodeSource(raw json.RawMessage) (SourceRow, error) {
	var r SourceRow
	err := json.Unmarshal(raw, &r)
	return r, err
}

func DecodeStorage(raw json.RawMessage) (StorageRow, error) {
	var r StorageRow
	err := json.Unmarshal(raw, &r)
	return r, err
}

func DecodeChat(raw json.RawMessage) (ChatRow, error) {
	var r ChatRow
	err := json.Unmarshal(raw, &r)
	return r, err
}
