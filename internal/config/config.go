// Package config holds the paster run configuration: loaded from an
// optional YAML file, overridden by flags, validated before any worker
// starts. There is no automatic discovery; a config file is used only
// when its path is given explicitly.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the ECE 252 strip server.
const DefaultEndpoint = "http://ece252-1.uwaterloo.ca:2530/image"

// Config is the full configuration surface of one paster run.
type Config struct {
	// BufferSize is the ring queue capacity (1-50).
	BufferSize int `yaml:"buffer_size"`

	// NumProducers is the download worker count (1-20).
	NumProducers int `yaml:"num_producers"`

	// NumConsumers is the decode worker count (1-20).
	NumConsumers int `yaml:"num_consumers"`

	// ConsumerDelayMS sleeps each consumer per fragment, simulating
	// back-pressure (0-1000).
	ConsumerDelayMS int `yaml:"consumer_delay_ms"`

	// ImageNum selects which image the server serves (1-3).
	ImageNum int `yaml:"image_num"`

	// Endpoint is the fragment server URL.
	Endpoint string `yaml:"endpoint"`

	// Output is where the assembled PNG is written.
	Output string `yaml:"output"`
}

// Default returns a sensible middle-of-the-road configuration.
func Default() Config {
	return Config{
		BufferSize:      10,
		NumProducers:    5,
		NumConsumers:    5,
		ConsumerDelayMS: 0,
		ImageNum:        1,
		Endpoint:        DefaultEndpoint,
		Output:          "all.png",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// AddFlags registers every field on fs, defaulting to the current
// values, so flags given on the command line win over the file.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&c.BufferSize, "buffer-size", "b", c.BufferSize, "ring queue capacity (1-50)")
	fs.IntVarP(&c.NumProducers, "producers", "p", c.NumProducers, "download worker count (1-20)")
	fs.IntVarP(&c.NumConsumers, "consumers", "c", c.NumConsumers, "decode worker count (1-20)")
	fs.IntVarP(&c.ConsumerDelayMS, "delay", "x", c.ConsumerDelayMS, "per-fragment consumer sleep in ms (0-1000)")
	fs.IntVarP(&c.ImageNum, "image", "n", c.ImageNum, "image number to fetch (1-3)")
	fs.StringVar(&c.Endpoint, "endpoint", c.Endpoint, "fragment server URL")
	fs.StringVarP(&c.Output, "output", "o", c.Output, "output PNG path")
}

// Validate enforces the documented ranges. The pipeline refuses to start
// on the first violation.
func (c *Config) Validate() error {
	if c.BufferSize < 1 || c.BufferSize > 50 {
		return fmt.Errorf("config: buffer size %d out of range [1, 50]", c.BufferSize)
	}
	if c.NumProducers < 1 || c.NumProducers > 20 {
		return fmt.Errorf("config: producer count %d out of range [1, 20]", c.NumProducers)
	}
	if c.NumConsumers < 1 || c.NumConsumers > 20 {
		return fmt.Errorf("config: consumer count %d out of range [1, 20]", c.NumConsumers)
	}
	if c.ConsumerDelayMS < 0 || c.ConsumerDelayMS > 1000 {
		return fmt.Errorf("config: consumer delay %d out of range [0, 1000]", c.ConsumerDelayMS)
	}
	if c.ImageNum < 1 || c.ImageNum > 3 {
		return fmt.Errorf("config: image number %d out of range [1, 3]", c.ImageNum)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("config: empty endpoint")
	}
	if c.Output == "" {
		return fmt.Errorf("config: empty output path")
	}
	return nil
}
