package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"sif3.org/internal/environment"
	"sif3.org/internal/model"
	"sif3.org/internal/rights"
	"sif3.org/internal/settings"
	"sif3.org/internal/store/memory"
)

// smoke-register registers the configured consumer against a running
// environment endpoint, checks the demo rights and unregisters again.
func main() {
	cfg, err := settings.Load()
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	if err := cfg.RequireConsumer(); err != nil {
		log.Fatalf("settings: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A direct environment without a URL is hosted in process.
	var local *environment.Service
	if cfg.EnvironmentType == model.EnvironmentDirect && cfg.EnvironmentURL == "" {
		local = environment.NewService(memory.New())
		if err := local.Provision(ctx, selfHosted(cfg)); err != nil {
			log.Fatalf("provision: %v", err)
		}
	}
	authority, err := environment.NewAuthority(cfg, local)
	if err != nil {
		log.Fatalf("authority: %v", err)
	}
	registrar, err := environment.NewRegistrar(cfg, authority, memory.New().Sessions(ctx))
	if err != nil {
		log.Fatalf("registrar: %v", err)
	}

	if err := registrar.Register(ctx); err != nil {
		log.Fatalf("register %s (%s) at %q: %v", cfg.ApplicationKey, cfg.EnvironmentType, cfg.EnvironmentURL, err)
	}
	env := registrar.Environment()

	canQuery := rights.Evaluate(env, rights.Request{ServiceName: "StudentPersonals", Permission: model.RightQuery})
	canCreate := rights.Evaluate(env, rights.Request{ServiceName: "StudentPersonals", Permission: model.RightCreate})
	if !canQuery || canCreate {
		log.Fatalf("unexpected StudentPersonals rights: query=%v create=%v", canQuery, canCreate)
	}

	registrar.Unregister(ctx, nil)
	if registrar.State() != environment.Unregistered {
		log.Fatalf("expected unregistered, got %s", registrar.State())
	}

	zone := ""
	if env.DefaultZone != nil {
		zone = env.DefaultZone.ID
	}
	fmt.Printf("✅ registration smoke test passed: environment=%s zone=%s\n", env.ID, zone)
}

// selfHosted provisions the configured application with the demo rights the
// smoke test expects.
func selfHosted(cfg settings.Settings) *model.ApplicationRegister {
	return &model.ApplicationRegister{
		ApplicationKey: cfg.ApplicationKey,
		SharedSecret:   cfg.SharedSecret,
		EnvironmentRegisters: []model.EnvironmentRegister{{
			InstanceID:  cfg.InstanceID,
			UserToken:   cfg.UserToken,
			SolutionID:  cfg.SolutionID,
			DefaultZone: model.Zone{ID: "auTestSchool"},
			ProvisionedZones: []model.ProvisionedZone{{
				ID: "auTestSchool",
				Services: []model.Service{{
					Type: model.ServiceObject,
					Name: "StudentPersonals",
					Rights: model.Rights{
						{Type: model.RightQuery, Value: model.Approved},
						{Type: model.RightCreate, Value: model.Rejected},
					},
				}},
			}},
		}},
	}
}
