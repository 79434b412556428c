package ledger

import "fmt"

// StoreConfig selects and configures a ledger backend.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite badger"`
	Path   string `yaml:"path"`
}

// OpenStore opens the backend named by config.Driver.
func OpenStore(config StoreConfig) (Store, error) {
	switch config.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		path := config.Path
		if path == "" {
			path = ":memory:"
		}
		return OpenSQLiteStore(path)
	case "badger":
		return OpenBadgerStore(BadgerConfig{
			Path:       config.Path,
			InMemory:   config.Path == "",
			SyncWrites: config.Path != "",
		})
	default:
		return nil, fmt.Errorf("unsupported ledger driver: %s", config.Driver)
	}
}
