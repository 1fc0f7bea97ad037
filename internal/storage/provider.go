package storage

import "orbit/internal/ports"

// Provider is the storage contract used across the service.
// It is an alias to ports.StorageProvider to keep call-sites simple.
type Provider = ports.StorageProvider
