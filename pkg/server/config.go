// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/cfgloader"
	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config defines the set of environment variables required for running
// this application.
type Config struct {
	Port      string `env:"PORT,default=8080"`
	RedisURL  string `env:"REDIS_URL,default=redis://redis/"`
	StaticDir string `env:"STATIC_DIR,default=static"`
}

// Validate validates the service config after load.
func (cfg *Config) Validate() error {
	if cfg.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	return nil
}

// NewConfig creates a new Config from environment variables.
func NewConfig(ctx context.Context) (*Config, error) {
	return newConfig(ctx, envconfig.OsLookuper())
}

func newConfig(ctx context.Context, lu envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := cfgloader.Load(ctx, &cfg, cfgloader.WithLookuper(lu)); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	return &cfg, nil
}

// ToFlags binds the config to the given [cli.FlagSet] and returns it.
func (cfg *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("SERVER OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "port",
		Target:  &cfg.Port,
		EnvVar:  "PORT",
		Default: "8080",
		Usage:   `The port the server listens on.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "redis-url",
		Target:  &cfg.RedisURL,
		EnvVar:  "REDIS_URL",
		Default: "redis://redis/",
		Usage:   `Connection string for the shared KV store.`,
	})

	f.StringVar(&cli.StringVar{
		Name:    "static-dir",
		Target:  &cfg.StaticDir,
		EnvVar:  "STATIC_DIR",
		Default: "static",
		Usage:   `Directory of static assets served at "/".`,
	})

	return set
}
