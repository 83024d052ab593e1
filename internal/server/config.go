package server

import "time"

// ThrottleOptions bound the inbound frames of a single connection: Burst
// frames at once, then one more every RefillInterval.
type ThrottleOptions struct {
	Burst          int
	RefillInterval time.Duration
}

// Options holds the transport settings including security controls.
type Options struct {
	Addr           string
	AllowedOrigins []string
	MaxMessageSize int64
	Throttle       ThrottleOptions
	// SendBuffer is the number of outbound frames queued per connection
	// before the connection is dropped as too slow.
	SendBuffer  int
	MetricsPath string
}

func defaultOptions() Options {
	return Options{
		Addr: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		Throttle: ThrottleOptions{
			Burst:          20,
			RefillInterval: 50 * time.Millisecond,
		},
		SendBuffer: 256,
	}
}

func sanitizeOptions(opts Options) Options {
	def := defaultOptions()

	if opts.Addr == "" {
		opts.Addr = def.Addr
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.Throttle.Burst <= 0 {
		opts.Throttle.Burst = def.Throttle.Burst
	}
	if opts.Throttle.RefillInterval <= 0 {
		opts.Throttle.RefillInterval = def.Throttle.RefillInterval
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = def.AllowedOrigins
	}
	opts.AllowedOrigins = append([]string(nil), opts.AllowedOrigins...)
	return opts
}
