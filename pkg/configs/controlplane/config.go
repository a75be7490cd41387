package controlplane

import (
	"time"
)

type ServerConfig struct {
	port    int32
	cluster *ClusterConfig
}

func (c *ServerConfig) Port() int32 {
	return c.port
}

func (c *ServerConfig) Cluster() *ClusterConfig {
	return c.cluster
}

// Configuration of the managed cluster.
//
// to get `ClusterConfig` instance, use `ClusterConfigMarshall.TrySeal()` .
type ClusterConfig struct {
	namespace   string
	domain      string
	poll        *PollConfig
	rateLimit   *RateLimitConfig
	reservation *ReservationConfig
}

// k8s namespace resources are provisioned into.
func (c *ClusterConfig) Namespace() string {
	return c.namespace
}

// k8s domain of the cluster. default = "cluster.local"
func (c *ClusterConfig) Domain() string {
	return c.domain
}

func (c *ClusterConfig) Poll() *PollConfig {
	return c.poll
}

func (c *ClusterConfig) RateLimit() *RateLimitConfig {
	return c.rateLimit
}

func (c *ClusterConfig) Reservation() *ReservationConfig {
	return c.reservation
}

// Poll cadence of mutation tasks and watch sessions.
type PollConfig struct {
	interval    time.Duration
	waitTimeout time.Duration
	pollTimeout time.Duration
}

// interval between readiness polls. default = 1s
func (p *PollConfig) Interval() time.Duration {
	return p.interval
}

// how long one readiness wait may take. default = 3m
func (p *PollConfig) WaitTimeout() time.Duration {
	return p.waitTimeout
}

// absolute ceiling over a task or watch session. default = 10m
func (p *PollConfig) PollTimeout() time.Duration {
	return p.pollTimeout
}

type RateLimitConfig struct {
	apiKeyTokens int
	nodeTokens   int
}

// bucket capacity per API key (full refill / 60s).
func (r *RateLimitConfig) APIKeyTokens() int {
	return r.apiKeyTokens
}

// bucket capacity per short node id (full refill / 10s).
func (r *RateLimitConfig) NodeTokens() int {
	return r.nodeTokens
}

type ReservationConfig struct {
	duration time.Duration
	signKey  string
	issuer   string
}

// validity window of a node reservation and of its credential.
func (r *ReservationConfig) Duration() time.Duration {
	return r.duration
}

// symmetric key signing node credentials.
// empty = provision one as a cluster secret at startup.
func (r *ReservationConfig) SignKey() string {
	return r.signKey
}

// issuer claim stamped into node credentials.
func (r *ReservationConfig) Issuer() string {
	return r.issuer
}
