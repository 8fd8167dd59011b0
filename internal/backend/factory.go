package backend

import "fmt"

// New builds a concrete Backend from its configuration, dispatching on
// cfg.Type. It does not connect; callers call Connect (or Registry.ConnectAll)
// once every backend is registered.
func New(cfg *Config) (Backend, error) {
	maxConf := cfg.MaxTrackedConfirmations
	if maxConf == 0 {
		maxConf = 6
	}

	switch cfg.Type {
	case TypeJSONRPC:
		return NewJSONRPCBackend(cfg.RPCURL, cfg.RPCUser, cfg.RPCPass, maxConf), nil
	case TypeBlockbook:
		return NewBlockbookBackend(cfg.BaseURL, maxConf), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Type)
	}
}
