// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bandwidth rate-limits block upload and download traffic via a
// token-bucket limiter, grounded on kraken's scheduler/bandwidth.Limiter but
// generalized to cover both directions instead of egress alone.
package bandwidth

import (
	"context"
	"fmt"

	"github.com/c2h5oh/datasize"
	"golang.org/x/time/rate"
)

// Config configures a Limiter. Zero values are replaced with defaults by
// applyDefaults. Rates are datasize.ByteSize so an operator can write
// "75MB" in YAML instead of a raw byte count.
type Config struct {
	EgressBytesPerSec  datasize.ByteSize `yaml:"egress_bytes_per_sec"`
	IngressBytesPerSec datasize.ByteSize `yaml:"ingress_bytes_per_sec"`
	Disable            bool              `yaml:"disable"`
}

func (c Config) applyDefaults() Config {
	if c.EgressBytesPerSec == 0 {
		c.EgressBytesPerSec = 75 * datasize.MB // 600 Mbit/s
	}
	if c.IngressBytesPerSec == 0 {
		c.IngressBytesPerSec = 75 * datasize.MB
	}
	return c
}

// Limiter rate-limits egress and ingress traffic independently via
// token-bucket limiters sized in bytes.
type Limiter struct {
	config  Config
	egress  *rate.Limiter
	ingress *rate.Limiter
}

// NewLimiter constructs a Limiter.
func NewLimiter(config Config) *Limiter {
	config = config.applyDefaults()
	return &Limiter{
		config:  config,
		egress:  rate.NewLimiter(rate.Limit(config.EgressBytesPerSec.Bytes()), int(config.EgressBytesPerSec.Bytes())),
		ingress: rate.NewLimiter(rate.Limit(config.IngressBytesPerSec.Bytes()), int(config.IngressBytesPerSec.Bytes())),
	}
}

// ReserveEgress blocks until bandwidth for nbytes of outbound traffic is
// available, or ctx is canceled.
func (l *Limiter) ReserveEgress(ctx context.Context, nbytes int) error {
	return l.reserve(ctx, l.egress, nbytes)
}

// ReserveIngress blocks until bandwidth for nbytes of inbound traffic is
// available, or ctx is canceled.
func (l *Limiter) ReserveIngress(ctx context.Context, nbytes int) error {
	return l.reserve(ctx, l.ingress, nbytes)
}

func (l *Limiter) reserve(ctx context.Context, lim *rate.Limiter, nbytes int) error {
	if l.config.Disable {
		return nil
	}
	if nbytes > lim.Burst() {
		return fmt.Errorf("bandwidth: %d bytes exceeds limiter burst capacity %d", nbytes, lim.Burst())
	}
	return lim.WaitN(ctx, nbytes)
}
