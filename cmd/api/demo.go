package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sif3.org/internal/jobs"
	"sif3.org/internal/model"
)

// oldYear closes the outgoing school year. Clients post the list of
// student refIds to roll over and can read back what was accepted.
type oldYear struct {
	jobs.Unsupported
}

func (oldYear) Create(_ context.Context, job *model.Job, phase *model.Phase, body string) (string, error) {
	n := len(strings.Fields(body))
	return fmt.Sprintf(`<rollover job="%s" phase="%s" students="%d"/>`, job.ID, phase.Name, n), nil
}

func (oldYear) Retrieve(_ context.Context, job *model.Job, phase *model.Phase, _ string) (string, error) {
	return fmt.Sprintf(`<rollover job="%s" phase="%s" state="%s"/>`, job.ID, phase.Name, phase.Current().Type), nil
}

// rolloverStudents is the functional service served when no other
// definitions are configured.
func rolloverStudents() jobs.Definition {
	return jobs.Definition{
		Name:        "RolloverStudents",
		Description: "Rolls enrolled students into the next school year",
		Timeout:     30 * time.Minute,
		Phases: []jobs.PhaseDefinition{
			{Name: "OLDYEAR", Required: true, Actions: oldYear{}},
			{Name: "NEWYEAR", Required: true},
			{Name: "AUDIT", Rights: model.Rights{
				{Type: model.RightQuery, Value: model.Approved},
				{Type: model.RightUpdate, Value: model.Approved},
			}},
		},
	}
}

// demoApplication provisions the in-memory authority so a fresh process
// accepts the demo consumer.
func demoApplication() *model.ApplicationRegister {
	functional := model.Rights{
		{Type: model.RightCreate, Value: model.Approved},
		{Type: model.RightQuery, Value: model.Approved},
		{Type: model.RightUpdate, Value: model.Approved},
		{Type: model.RightDelete, Value: model.Approved},
	}
	return &model.ApplicationRegister{
		ApplicationKey: "Sif3DemoApp",
		SharedSecret:   "SecretDem0",
		EnvironmentRegisters: []model.EnvironmentRegister{{
			ApplicationKey: "Sif3DemoApp",
			SolutionID:     "Sif3DemoSolution",
			DefaultZone:    model.Zone{ID: "auTestSchool", Description: "Demo school"},
			ProvisionedZones: []model.ProvisionedZone{{
				ID: "auTestSchool",
				Services: []model.Service{
					{Type: model.ServiceObject, Name: "StudentPersonals", Rights: model.Rights{
						{Type: model.RightQuery, Value: model.Approved},
						{Type: model.RightCreate, Value: model.Rejected},
					}},
					{Type: model.ServiceFunctional, Name: "RolloverStudents", Rights: functional},
				},
			}},
		}},
	}
}
