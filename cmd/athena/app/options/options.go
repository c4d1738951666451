package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/athena/internal/athena"
	"github.com/autopeer-io/athena/pkg/app"
	"github.com/autopeer-io/athena/pkg/log"
	"github.com/autopeer-io/athena/pkg/options"
)

type AthenaOptions struct {
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	GrpcOptions      *options.GrpcOptions      `json:"grpc" mapstructure:"grpc"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	EngineOptions    *options.EngineOptions    `json:"engine" mapstructure:"engine"`
	DispatchOptions  *options.DispatchOptions  `json:"dispatch" mapstructure:"dispatch"`
	WatchlistOptions *options.WatchlistOptions `json:"watchlist" mapstructure:"watchlist"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

var (
	_ app.NamedFlagSetOptions = (*AthenaOptions)(nil)
	_ app.LoggerOptions       = (*AthenaOptions)(nil)
)

func NewAthenaOptions() *AthenaOptions {
	o := &AthenaOptions{
		MqttOptions:      options.NewMqttOptions(),
		HttpOptions:      options.NewHttpOptions(),
		GrpcOptions:      options.NewGrpcOptions(),
		S3Options:        options.NewS3Options(),
		EngineOptions:    options.NewEngineOptions(),
		DispatchOptions:  options.NewDispatchOptions(),
		WatchlistOptions: options.NewWatchlistOptions(),
		Log:              log.NewOptions(),
	}

	return o
}

func (o *AthenaOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.EngineOptions.AddFlags(fss.FlagSet("engine"))
	o.DispatchOptions.AddFlags(fss.FlagSet("dispatch"))
	o.WatchlistOptions.AddFlags(fss.FlagSet("watchlist"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AthenaOptions) Complete() error {
	return nil
}

func (o *AthenaOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.EngineOptions.Validate()...)
	errs = append(errs, o.DispatchOptions.Validate()...)
	errs = append(errs, o.WatchlistOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AthenaOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *AthenaOptions) Config() (*athena.Config, error) {
	return &athena.Config{
		MqttOptions:      o.MqttOptions,
		HttpOptions:      o.HttpOptions,
		GrpcOptions:      o.GrpcOptions,
		S3Options:        o.S3Options,
		EngineOptions:    o.EngineOptions,
		DispatchOptions:  o.DispatchOptions,
		WatchlistOptions: o.WatchlistOptions,
	}, nil
}
