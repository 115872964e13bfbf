package config

import (
	"testing"
	"time"
)

func validConfig(env string) Config {
	return Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer", SSLMode: "disable"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "dialer", JWTAudience: "dialer-api", AccessTokenTTL: 15 * time.Minute},
		Scheduler: SchedulerConfig{
			TickInterval:    5 * time.Second,
			SweepInterval:   10 * time.Second,
			PickupDelay:     30 * time.Second,
			AbandonAfter:    5 * time.Minute,
			MinCallDuration: 2 * time.Minute,
			MaxCallDuration: 5 * time.Minute,
			SlotTTL:         30 * time.Minute,
		},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	c := validConfig("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig("production")
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_ProductionRequiresIssuerAndAudience(t *testing.T) {
	c := validConfig("production")
	c.Auth.JWTIssuer = ""
	c.Auth.JWTAudience = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without issuer/audience")
	}
}

func TestValidate_AbandonMustExceedPickup(t *testing.T) {
	c := validConfig("local")
	c.Scheduler.AbandonAfter = c.Scheduler.PickupDelay
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when abandon window does not exceed pickup delay")
	}
}

func TestValidate_CallDurationBoundsOrdered(t *testing.T) {
	c := validConfig("local")
	c.Scheduler.MinCallDuration = 5 * time.Minute
	c.Scheduler.MaxCallDuration = 2 * time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when min call duration exceeds max")
	}
}
