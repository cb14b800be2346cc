package domain

import "context"

// Store 仓储集合；Transaction 内拿到的是绑定同一个 tx 的 Store
type Store interface {
	Users() UserRepository
	Cars() CarRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
