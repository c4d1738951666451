package version

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestInfo(t *testing.T) {
	info := Get()
	if info.String() != gitVersion {
		t.Errorf("String() = %q", info.String())
	}

	var decoded Info
	if err := json.Unmarshal([]byte(info.ToJSON()), &decoded); err != nil || decoded != info {
		t.Errorf("ToJSON() round trip = %+v (%v)", decoded, err)
	}

	text := info.Text()
	for _, want := range []string{"gitVersion:", "platform:", info.GoVersion} {
		if !strings.Contains(text, want) {
			t.Errorf("Text() misses %q:\n%s", want, text)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	tests := []struct {
		args    []string
		want    versionValue
		wantErr bool
	}{
		{args: nil, want: VersionFalse},
		{args: []string{"--version"}, want: VersionTrue},
		{args: []string{"--version=raw"}, want: VersionRaw},
		{args: []string{"--version=false"}, want: VersionFalse},
		{args: []string{"--version=maybe"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			versionFlag = VersionFalse
			t.Cleanup(func() { versionFlag = VersionFalse })

			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			AddFlags(fs)
			err := fs.Parse(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && versionFlag != tt.want {
				t.Errorf("flag = %v, want %v", versionFlag.String(), tt.want.String())
			}
		})
	}
}
