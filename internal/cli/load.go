package cli

import (
	"errors"
	"io/fs"
	"os"

	"empathai/internal/app"
	"empathai/internal/storage"
	logx "empathai/pkg/logx"
)

var errNoStorage = errors.New("storage is disabled in the config")

func (o *options) loadConfig() (*app.Config, error) {
	return app.LoadConfig(app.NewConfigManager(o.cfgPath))
}

// loadConfigOrDefault falls back to the zero config when the file is
// missing.
func (o *options) loadConfigOrDefault() (*app.Config, error) {
	if _, err := os.Stat(o.cfgPath); errors.Is(err, fs.ErrNotExist) {
		return &app.Config{}, nil
	}
	return o.loadConfig()
}

func (o *options) openStore() (storage.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := app.OpenStore(cfg, logx.Nop())
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errNoStorage
	}
	return st, nil
}
