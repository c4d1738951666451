package version

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

type versionValue int

const (
	VersionFalse versionValue = 0
	VersionTrue  versionValue = 1
	VersionRaw   versionValue = 2
)

const (
	strRawVersion   = "raw"
	versionFlagName = "version"
)

var versionFlag = VersionFalse

func (v *versionValue) IsBoolFlag() bool {
	return true
}

func (v *versionValue) Get() any {
	return *v
}

func (v *versionValue) Set(s string) error {
	if s == strRawVersion {
		*v = VersionRaw
		return nil
	}
	boolVal, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid value %q, expected true, false or %s", s, strRawVersion)
	}
	if boolVal {
		*v = VersionTrue
	} else {
		*v = VersionFalse
	}
	return nil
}

func (v *versionValue) String() string {
	if *v == VersionRaw {
		return strRawVersion
	}
	return strconv.FormatBool(*v == VersionTrue)
}

func (v *versionValue) Type() string {
	return "version"
}

// AddFlags registers --version on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.Var(&versionFlag, versionFlagName, "Print version information and quit. --version=raw prints JSON.")
	fs.Lookup(versionFlagName).NoOptDefVal = "true"
}

// PrintAndExitIfRequested prints the version and exits when --version was set.
func PrintAndExitIfRequested(name string) {
	switch versionFlag {
	case VersionRaw:
		fmt.Println(Get().ToJSON())
		os.Exit(0)
	case VersionTrue:
		fmt.Printf("%s\n%s\n", name, Get().Text())
		os.Exit(0)
	}
}
