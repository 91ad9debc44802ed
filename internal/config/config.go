package config

import (
	"strings"
	"time"
)

const (
	DefaultListenAddr      = "127.0.0.1:61420"
	DefaultHTTPPort        = 8888
	DefaultEndpoint        = "tcp://localhost:31002"
	DefaultMaxMissedFrames = 100
	DefaultWriteTimeout    = 250 * time.Millisecond
	DefaultDebugRate       = 30.0
	DefaultIngestLogEvery  = 100
)

type AppConfig struct {
	ListenAddr      string
	HTTPPort        int
	Endpoint        string
	Devices         []string
	MaxMissedFrames uint32
	WriteTimeout    time.Duration
	Debug           bool
	DebugRate       float64
	DebugDevices    int
	RawLogEnabled   bool
	RawLogDir       string
	IngestLogEvery  int
	LogPoses        bool
}

func Default() AppConfig {
	return AppConfig{
		ListenAddr:      DefaultListenAddr,
		HTTPPort:        DefaultHTTPPort,
		Endpoint:        DefaultEndpoint,
		MaxMissedFrames: DefaultMaxMissedFrames,
		WriteTimeout:    DefaultWriteTimeout,
		DebugRate:       DefaultDebugRate,
		DebugDevices:    1,
		RawLogDir:       "rawlog",
		IngestLogEvery:  DefaultIngestLogEvery,
	}
}

// Validate fills zero or out-of-range values with defaults.
func (c *AppConfig) Validate() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.HTTPPort < 0 {
		c.HTTPPort = 0
	}
	if c.MaxMissedFrames == 0 {
		c.MaxMissedFrames = DefaultMaxMissedFrames
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DebugRate <= 0 {
		c.DebugRate = DefaultDebugRate
	}
	if c.DebugDevices < 1 {
		c.DebugDevices = 1
	}
	if c.IngestLogEvery < 1 {
		c.IngestLogEvery = 1
	}
}

// SplitList parses a comma-separated flag value, dropping empty entries.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
