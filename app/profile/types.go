package profile

import (
	"time"

	"github.com/lysyi3m/xtream-catalog/app/xtream"
)

type Profile struct {
	ID       string   `yaml:"-" json:"id"` // Derived from filename (without .yml extension)
	Name     string   `yaml:"name" json:"name"`
	Host     string   `yaml:"host" json:"host"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"-"`
	Settings Settings `yaml:"settings" json:"settings"`
}

type Settings struct {
	Enabled            bool `yaml:"enabled" json:"enabled"`
	SyncInterval       int  `yaml:"sync_interval" json:"sync_interval"`               // seconds
	EpgRefreshInterval int  `yaml:"epg_refresh_interval" json:"epg_refresh_interval"` // seconds
	Timeout            int  `yaml:"timeout" json:"timeout"`                           // seconds
}

func (p *Profile) Credentials() xtream.Credentials {
	return xtream.Credentials{
		Host:     p.Host,
		Username: p.Username,
		Password: p.Password,
		Timeout:  time.Duration(p.Settings.Timeout) * time.Second,
	}
}

func (p *Profile) SyncInterval() time.Duration {
	return time.Duration(p.Settings.SyncInterval) * time.Second
}

func (p *Profile) EpgRefreshInterval() time.Duration {
	return time.Duration(p.Settings.EpgRefreshInterval) * time.Second
}
