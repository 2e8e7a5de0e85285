// Package state is the local durable scratchpad: order de-duplication keys
// and the cycle checkpoint live here, not in the relational store.
package state

import "context"

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
