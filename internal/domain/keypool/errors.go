package keypool

import "senweaver-server-go/internal/platform/errors"

var (
	ErrUnknownProvider  = errors.New(errors.KindDomain, "keypool", "unknown provider")
	ErrProviderInactive = errors.New(errors.KindDomain, "keypool", "provider is not active")
	ErrProviderExists   = errors.New(errors.KindDomain, "keypool", "provider already exists")
	ErrProviderInUse    = errors.New(errors.KindDomain, "keypool", "provider still has active pools")
	ErrPoolNotFound     = errors.New(errors.KindDomain, "keypool", "pool not found")
	ErrPoolInUse        = errors.New(errors.KindDomain, "keypool", "pool still has active allocations")
	ErrInvalidCapacity  = errors.New(errors.KindDomain, "keypool", "invalid max_clients")
	ErrDuplicateSecret  = errors.New(errors.KindDomain, "keypool", "secret already registered for provider")
)
