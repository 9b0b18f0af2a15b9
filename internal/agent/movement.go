package agent

import (
	"log"
	"math"

	"quantaforge.ai/internal/protocol"
)

type positionArgs struct {
	Position protocol.Vec3 `json:"position"`
	Yaw      float64       `json:"yaw"`
}

// MovementController tracks the agent's position and heading and drives
// walk/rotate/wander moves by stepping toward a target each tick and issuing
// update_player_position calls. The server's own player row remains the
// authority; SyncPosition folds echoed updates back in.
type MovementController struct {
	calls ReducerCaller
	log   *log.Logger

	pos protocol.Vec3
	yaw float64 // degrees, 0 = +Z

	target      *protocol.Vec3
	speed       float64 // units per second
	updateEvery int
	sinceUpdate int

	onArrived func()
}

func NewMovementController(calls ReducerCaller, speed float64, updateEveryTicks int, logger *log.Logger) *MovementController {
	if speed <= 0 {
		speed = 4
	}
	if updateEveryTicks <= 0 {
		updateEveryTicks = 6
	}
	if logger == nil {
		logger = log.Default()
	}
	return &MovementController{
		calls:       calls,
		log:         logger,
		speed:       speed,
		updateEvery: updateEveryTicks,
	}
}

// OnArrived registers the movement-complete hook.
func (mc *MovementController) OnArrived(fn func()) { mc.onArrived = fn }

func (mc *MovementController) Position() protocol.Vec3 { return mc.pos }

func (mc *MovementController) Yaw() float64 { return mc.yaw }

func (mc *MovementController) Moving() bool { return mc.target != nil }

// SyncPosition mirrors the authoritative position from the agent's player row.
func (mc *MovementController) SyncPosition(pos protocol.Vec3, yaw float64) {
	mc.pos = pos
	mc.yaw = yaw
}

func (mc *MovementController) heading() protocol.Vec3 {
	rad := mc.yaw * math.Pi / 180
	return protocol.Vec3{X: math.Sin(rad), Z: math.Cos(rad)}
}

// WalkForward starts a move of distance units along the current heading.
func (mc *MovementController) WalkForward(distance float64) bool {
	if distance <= 0 {
		return false
	}
	h := mc.heading()
	t := protocol.Vec3{
		X: mc.pos.X + h.X*distance,
		Y: mc.pos.Y,
		Z: mc.pos.Z + h.Z*distance,
	}
	mc.target = &t
	mc.sinceUpdate = 0
	return true
}

// Rotate turns the agent in place and reports the new heading upstream.
func (mc *MovementController) Rotate(degrees float64) {
	mc.yaw = math.Mod(mc.yaw+degrees, 360)
	if mc.yaw < 0 {
		mc.yaw += 360
	}
	mc.sendPosition()
}

// StopWalking abandons any in-flight move.
func (mc *MovementController) StopWalking() { mc.target = nil }

// Wander turns to a random heading and walks the given distance.
func (mc *MovementController) Wander(distance float64, randFloat func() float64) bool {
	if randFloat != nil {
		mc.yaw = randFloat() * 360
	}
	return mc.WalkForward(distance)
}

// Tick advances an in-flight move by dt.
func (mc *MovementController) Tick(dt float64) {
	if mc.target == nil {
		return
	}
	t := *mc.target
	dx, dz := t.X-mc.pos.X, t.Z-mc.pos.Z
	dist := math.Sqrt(dx*dx + dz*dz)
	step := mc.speed * dt
	if dist <= step || dist == 0 {
		mc.pos = t
		mc.target = nil
		mc.sendPosition()
		if mc.onArrived != nil {
			mc.onArrived()
		}
		return
	}
	mc.pos.X += dx / dist * step
	mc.pos.Z += dz / dist * step
	mc.sinceUpdate++
	if mc.sinceUpdate >= mc.updateEvery {
		mc.sinceUpdate = 0
		mc.sendPosition()
	}
}

func (mc *MovementController) sendPosition() {
	if err := mc.calls.Call(protocol.ReducerUpdatePosition, positionArgs{Position: mc.pos, Yaw: mc.yaw}); err != nil {
		mc.log.Printf("update_player_position: %v", err)
	}
}
