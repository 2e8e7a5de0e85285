package state

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const cycleCheckpointKey = "scheduler:cycle_checkpoint"

// CycleCheckpoint records where the polling loop left off so cycle numbering
// and monitoring survive restarts.
type CycleCheckpoint struct {
	Cycle       uint64    `msgpack:"cycle"`
	CompletedAt time.Time `msgpack:"completed_at"`
	Symbols     int       `msgpack:"symbols"`
}

func LoadCycleCheckpoint(ctx context.Context, store Store) (CycleCheckpoint, bool, error) {
	if store == nil {
		return CycleCheckpoint{}, false, nil
	}
	raw, ok, err := store.Get(ctx, cycleCheckpointKey)
	if err != nil || !ok {
		return CycleCheckpoint{}, false, err
	}
	blob, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return CycleCheckpoint{}, false, err
	}
	var ckpt CycleCheckpoint
	if err := msgpack.Unmarshal(blob, &ckpt); err != nil {
		return CycleCheckpoint{}, false, err
	}
	return ckpt, true, nil
}

func SaveCycleCheckpoint(ctx context.Context, store Store, ckpt CycleCheckpoint) error {
	if store == nil {
		return nil
	}
	blob, err := msgpack.Marshal(ckpt)
	if err != nil {
		return err
	}
	return store.Set(ctx, cycleCheckpointKey, base64.StdEncoding.EncodeToString(blob))
}
