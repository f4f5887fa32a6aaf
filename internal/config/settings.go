package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SettingsHolder hands out the current Settlement settings. Readers never
// block; a reload swaps the whole struct.
type SettingsHolder struct {
	current atomic.Pointer[Settlement]
}

func NewSettingsHolder(s Settlement) *SettingsHolder {
	h := &SettingsHolder{}
	h.Store(s)
	return h
}

func (h *SettingsHolder) Load() Settlement {
	return *h.current.Load()
}

func (h *SettingsHolder) Store(s Settlement) {
	h.current.Store(&s)
}

// Watch re-reads the config file on change and swaps in the new settlement
// settings. Invalid files are logged and ignored.
func (h *SettingsHolder) Watch(file string) {
	if file == "" {
		return
	}
	v := newViper()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		zap.L().Warn("settings watch disabled", zap.String("file", file), zap.Error(err))
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		h.reload(v, e.Name)
	})
	v.WatchConfig()
}

func (h *SettingsHolder) reload(v *viper.Viper, name string) {
	s, err := settlementFromViper(v)
	if err != nil {
		zap.L().Error("settings reload rejected", zap.String("file", name), zap.Error(err))
		return
	}
	h.Store(s)
	zap.L().Info("settlement settings reloaded",
		zap.String("file", name),
		zap.String("match_tolerance", s.MatchTolerance.String()),
		zap.Duration("match_lookback", s.MatchLookback),
	)
}
