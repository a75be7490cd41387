package controlplane

import (
	"fmt"
	"time"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs/controlplane.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

type ServerConfigMarshall struct {
	Port    int32                  `yaml:"port"`
	Cluster *ClusterConfigMarshall `yaml:"cluster"`
}

var _ Marshalled[*ServerConfig] = &ServerConfigMarshall{}

func (s *ServerConfigMarshall) trySeal(path string) *ServerConfig {
	return &ServerConfig{
		port:    required(s.Port, path+".port"),
		cluster: nonnil(s.Cluster, path+".cluster").trySeal(path + ".cluster"),
	}
}

// Configuration of the managed cluster.
//
// This type is marshalling value and mutable.
// Consider to use immutable version, `ClusterConfig`.
// You can get `ClusterConfig` instance with `TrySeal`.
type ClusterConfigMarshall struct {
	Namespace   string                     `yaml:"namespace"`
	Domain      string                     `yaml:"domain,omitempty"`
	Poll        *PollConfigMarshall        `yaml:"poll,omitempty"`
	RateLimit   *RateLimitConfigMarshall   `yaml:"rateLimit"`
	Reservation *ReservationConfigMarshall `yaml:"reservation"`
}

func (cm *ClusterConfigMarshall) trySeal(path string) *ClusterConfig {
	domain := cm.Domain
	if domain == "" {
		domain = "cluster.local"
	}
	poll := cm.Poll
	if poll == nil {
		poll = &PollConfigMarshall{}
	}
	return &ClusterConfig{
		namespace:   required(cm.Namespace, path+".namespace"),
		domain:      domain,
		poll:        poll.trySeal(path + ".poll"),
		rateLimit:   nonnil(cm.RateLimit, path+".rateLimit").trySeal(path + ".rateLimit"),
		reservation: nonnil(cm.Reservation, path+".reservation").trySeal(path + ".reservation"),
	}
}

type PollConfigMarshall struct {
	Interval    string `yaml:"interval,omitempty"`
	WaitTimeout string `yaml:"waitTimeout,omitempty"`
	PollTimeout string `yaml:"pollTimeout,omitempty"`
}

func (pm *PollConfigMarshall) trySeal(path string) *PollConfig {
	return &PollConfig{
		interval:    duration(pm.Interval, 1*time.Second, path+".interval"),
		waitTimeout: duration(pm.WaitTimeout, 3*time.Minute, path+".waitTimeout"),
		pollTimeout: duration(pm.PollTimeout, 10*time.Minute, path+".pollTimeout"),
	}
}

type RateLimitConfigMarshall struct {
	APIKeyTokens int `yaml:"apiKeyTokens"`
	NodeTokens   int `yaml:"nodeTokens"`
}

func (rm *RateLimitConfigMarshall) trySeal(path string) *RateLimitConfig {
	return &RateLimitConfig{
		apiKeyTokens: required(rm.APIKeyTokens, path+".apiKeyTokens"),
		nodeTokens:   required(rm.NodeTokens, path+".nodeTokens"),
	}
}

type ReservationConfigMarshall struct {
	Duration string `yaml:"duration"`
	SignKey  string `yaml:"signKey,omitempty"`
	Issuer   string `yaml:"issuer,omitempty"`
}

func (rm *ReservationConfigMarshall) trySeal(path string) *ReservationConfig {
	issuer := rm.Issuer
	if issuer == "" {
		issuer = "anvil"
	}
	return &ReservationConfig{
		duration: duration(required(rm.Duration, path+".duration"), 0, path+".duration"),
		signKey:  rm.SignKey,
		issuer:   issuer,
	}
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

func duration(v string, fallback time.Duration, path string) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed: %w", path, err))
	}
	return d
}
