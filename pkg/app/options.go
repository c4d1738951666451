package app

import (
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/athena/pkg/log"
)

// NamedFlagSetOptions is implemented by a command's options. Flags are
// grouped into named sections for --help.
type NamedFlagSetOptions interface {
	// Flags returns the flag sets, one per options group.
	Flags() cliflag.NamedFlagSets

	// Complete fills in defaults that depend on other fields.
	Complete() error

	// Validate checks the completed options.
	Validate() error
}

// LoggerOptions is implemented by options that carry log settings. The
// global logger is initialized from them before the run function starts.
type LoggerOptions interface {
	LogOptions() *log.Options
}
