package battle

import (
	"errors"

	"github.com/emberlight/realtime-backend/internal/storage"
	"github.com/emberlight/realtime-backend/pkg/protocol"
)

// ErrMalformedInput means the payload shape was wrong for its code.
var ErrMalformedInput = errors.New("battle: malformed input payload")

// Input is one decoded battle message. Raw keeps the original argument list
// so validated messages relay byte-compatible payloads the server does not
// interpret beyond the fields below.
type Input struct {
	Kind        string
	ActorIndex  int
	X, Y        float64
	SkillID     int
	TargetIndex int
	HasTarget   bool
	Gauge       float64
	Raw         []any
}

// ParseInput decodes a btl/* argument list at the dispatcher boundary.
//
//	btl/move   [actorIndex, x, y]
//	btl/action [actorIndex, skillID, targetIndex, gauge, ...opaque]
//	btl/guard  [actorIndex, gauge]
//	btl/end    [actorIndex]
func ParseInput(code string, args []any) (Input, error) {
	in := Input{Kind: code, Raw: args}

	actor, ok := intArg(args, 0)
	if !ok {
		return Input{}, ErrMalformedInput
	}
	in.ActorIndex = int(actor)

	switch code {
	case protocol.CodeBattleMove:
		x, okX := floatArg(args, 1)
		y, okY := floatArg(args, 2)
		if !okX || !okY {
			return Input{}, ErrMalformedInput
		}
		in.X, in.Y = x, y
	case protocol.CodeBattleAction:
		skill, okS := intArg(args, 1)
		gauge, okG := floatArg(args, 3)
		if !okS || !okG {
			return Input{}, ErrMalformedInput
		}
		in.SkillID = int(skill)
		in.Gauge = gauge
		if target, ok := intArg(args, 2); ok {
			in.TargetIndex = int(target)
			in.HasTarget = true
		}
	case protocol.CodeBattleGuard:
		gauge, ok := floatArg(args, 1)
		if !ok {
			return Input{}, ErrMalformedInput
		}
		in.Gauge = gauge
	case protocol.CodeBattleEnd:
		// actor index only
	default:
		return Input{}, ErrMalformedInput
	}
	return in, nil
}

func intArg(args []any, i int) (int64, bool) {
	if i >= len(args) {
		return 0, false
	}
	return storage.CoerceInt64(args[i])
}

func floatArg(args []any, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		if n, ok := storage.CoerceInt64(args[i]); ok {
			return float64(n), true
		}
	}
	return 0, false
}
