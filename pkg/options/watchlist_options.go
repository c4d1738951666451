package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*WatchlistOptions)(nil)

// WatchlistOptions points at a YAML file of violation vehicles that is
// loaded at startup and reloaded when it changes.
type WatchlistOptions struct {
	// File is empty when violations only arrive as events.
	File     string        `json:"file" mapstructure:"file"`
	Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
}

func NewWatchlistOptions() *WatchlistOptions {
	return &WatchlistOptions{
		Debounce: 500 * time.Millisecond,
	}
}

func (o *WatchlistOptions) Enabled() bool {
	return o != nil && o.File != ""
}

func (o *WatchlistOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errs := []error{}
	if o.Debounce < 0 {
		errs = append(errs, fmt.Errorf("--watchlist.debounce must not be negative"))
	}
	return errs
}

func (o *WatchlistOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.File, "watchlist.file", o.File, "YAML file of violation vehicles, reloaded on change. Empty disables it.")
	fs.DurationVar(&o.Debounce, "watchlist.debounce", o.Debounce, "Quiet period after a file change before reloading.")
}
