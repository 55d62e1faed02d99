package actions

import (
	"io"
	"log/slog"
	"os"
)

// BuiltinConfig configures the built-in actions.
type BuiltinConfig struct {
	// Output receives the lines printed by the log action. Defaults to stdout.
	Output io.Writer
	Logger *slog.Logger
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	all := make([]Action, 0, 16)
	all = append(all, CoreActions(cfg)...)
	all = append(all, ExprActions()...)
	all = append(all, AssertActions()...)
	all = append(all, CryptoActions()...)

	return reg.Register(all...)
}
