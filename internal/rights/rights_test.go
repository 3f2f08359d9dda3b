package rights

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"sif3.org/internal/auth"
	"sif3.org/internal/environment"
	"sif3.org/internal/model"
	"sif3.org/internal/settings"
	"sif3.org/internal/store"
	"sif3.org/internal/store/memory"
)

type staticEnvs map[string]*model.Environment

func (s staticEnvs) RetrieveBySessionToken(_ context.Context, token string) (*model.Environment, error) {
	env, ok := s[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return env, nil
}

func envWith(rights model.Rights) *model.Environment {
	return &model.Environment{
		SessionToken: "tok",
		DefaultZone:  &model.Zone{ID: "z1"},
		ProvisionedZones: []model.ProvisionedZone{{
			ID: "z1",
			Services: []model.Service{
				{Type: model.ServiceObject, Name: "StudentPersonals", Rights: rights},
				{Type: model.ServiceFunctional, Name: "RolloverStudents", ContextID: "CURRENT", Rights: model.Rights{{Type: model.RightCreate, Value: model.Approved}}},
			},
		}},
	}
}

func TestExactMatchGrid(t *testing.T) {
	types := []model.RightType{model.RightAdmin, model.RightCreate, model.RightDelete, model.RightProvide, model.RightQuery, model.RightSubscribe, model.RightUpdate}
	values := []model.RightValue{model.Approved, model.Rejected, model.Supported}
	granted := model.Rights{
		{Type: model.RightQuery, Value: model.Approved},
		{Type: model.RightCreate, Value: model.Supported},
		{Type: model.RightDelete, Value: model.Rejected},
	}
	env := envWith(granted)
	for _, typ := range types {
		for _, val := range values {
			want := granted.Has(typ, val)
			got := Evaluate(env, Request{ServiceName: "StudentPersonals", Permission: typ, Privilege: val})
			if got != want {
				t.Fatalf("%s/%s: got %v want %v", typ, val, got, want)
			}
		}
	}
	if Evaluate(env, Request{ServiceName: "StudentPersonals", Permission: model.RightCreate}) {
		t.Fatal("SUPPORTED must not satisfy APPROVED")
	}
	if Evaluate(env, Request{ServiceName: "StudentPersonals", Permission: model.RightUpdate, Privilege: model.Rejected}) {
		t.Fatal("an absent right must not match REJECTED explicitly")
	}
}

func TestDuplicateRightTypeReadsFirstEntry(t *testing.T) {
	dup := model.Rights{
		{Type: model.RightQuery, Value: model.Rejected},
		{Type: model.RightQuery, Value: model.Approved},
	}
	req := Request{ServiceName: "StudentPersonals", Permission: model.RightQuery}
	raw := Evaluate(envWith(dup), req)
	normalized := Evaluate(envWith(dup.Normalize()), req)
	if raw || normalized {
		t.Fatalf("duplicate QUERY entries: raw=%v normalized=%v, want both false", raw, normalized)
	}

	svc := environment.NewService(memory.New())
	err := svc.Provision(context.Background(), &model.ApplicationRegister{
		ApplicationKey: "Sif3DemoApp",
		SharedSecret:   "SecretDem0",
		EnvironmentRegisters: []model.EnvironmentRegister{{
			SolutionID: "Sif3DemoSolution",
			ProvisionedZones: []model.ProvisionedZone{{
				ID:       "DefaultZone",
				Services: []model.Service{{Type: model.ServiceObject, Name: "StudentPersonals", Rights: dup}},
			}},
		}},
	})
	if !errors.Is(err, model.ErrDuplicateRight) {
		t.Fatalf("expected provisioning to refuse duplicate rights, got %v", err)
	}
}

func TestServiceAndZoneMatching(t *testing.T) {
	env := envWith(model.Rights{{Type: model.RightQuery, Value: model.Approved}})
	cases := []struct {
		name string
		req  Request
		want bool
	}{
		{"default zone", Request{ServiceName: "StudentPersonals", Permission: model.RightQuery}, true},
		{"explicit zone", Request{ServiceName: "StudentPersonals", Permission: model.RightQuery, ZoneID: "z1"}, true},
		{"unknown zone", Request{ServiceName: "StudentPersonals", Permission: model.RightQuery, ZoneID: "z2"}, false},
		{"case sensitive name", Request{ServiceName: "studentpersonals", Permission: model.RightQuery}, false},
		{"wrong type", Request{ServiceType: model.ServiceUtility, ServiceName: "StudentPersonals", Permission: model.RightQuery}, false},
		{"functional context", Request{ServiceType: model.ServiceFunctional, ServiceName: "RolloverStudents", Permission: model.RightCreate, ContextID: "CURRENT"}, true},
		{"functional wrong context", Request{ServiceType: model.ServiceFunctional, ServiceName: "RolloverStudents", Permission: model.RightCreate, ContextID: "DEFAULT"}, false},
	}
	for _, tc := range cases {
		if got := Evaluate(env, tc.req); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
	if Evaluate(envWith(nil), Request{ServiceName: "StudentPersonals", Permission: model.RightQuery}) {
		t.Fatal("service without rights must be unauthorised")
	}
}

func TestInvalidSession(t *testing.T) {
	e := NewEngine(staticEnvs{}, nil)
	ok, err := e.IsAuthorised(context.Background(), Request{SessionToken: "ghost", ServiceName: "StudentPersonals", Permission: model.RightQuery})
	if ok || !errors.Is(err, auth.ErrInvalidSession) {
		t.Fatalf("got %v, %v", ok, err)
	}
}

func TestAuthoriseFunctional(t *testing.T) {
	open := &model.Phase{Name: "OLDYEAR"}
	if !AuthoriseFunctional(open, model.RightUpdate) {
		t.Fatal("phase without rights should be open")
	}
	locked := &model.Phase{Name: "NEWYEAR", Rights: model.Rights{{Type: model.RightQuery, Value: model.Approved}}}
	if AuthoriseFunctional(locked, model.RightUpdate) || !AuthoriseFunctional(locked, model.RightQuery) {
		t.Fatal("phase rights not applied")
	}
}

func TestDemoScenario(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := environment.NewService(st)
	err := svc.Provision(ctx, &model.ApplicationRegister{
		ApplicationKey: "Sif3DemoApp",
		SharedSecret:   "SecretDem0",
		EnvironmentRegisters: []model.EnvironmentRegister{{
			SolutionID:  "Sif3DemoSolution",
			DefaultZone: model.Zone{ID: "DefaultZone"},
			ProvisionedZones: []model.ProvisionedZone{{
				ID: "DefaultZone",
				Services: []model.Service{{
					Type:   model.ServiceObject,
					Name:   "StudentPersonals",
					Rights: model.Rights{{Type: model.RightQuery, Value: model.Approved}},
				}},
			}},
		}},
	})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	cfg := settings.Defaults()
	cfg.ApplicationKey = "Sif3DemoApp"
	cfg.SharedSecret = "SecretDem0"
	cfg.SolutionID = "Sif3DemoSolution"
	local := memory.New().Sessions(ctx)
	registrar, err := environment.NewRegistrar(cfg, environment.NewDirect(svc), local)
	if err != nil {
		t.Fatalf("NewRegistrar: %v", err)
	}
	if err := registrar.Register(ctx); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token := registrar.Environment().SessionToken
	if token == "" {
		t.Fatal("expected session token")
	}
	if _, err := local.RetrieveBySessionToken(ctx, token); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}

	engine := NewEngine(svc, svc.Verifier())
	ok, err := engine.IsAuthorised(ctx, Request{SessionToken: token, ServiceName: "StudentPersonals", Permission: model.RightQuery, Privilege: model.Approved})
	if err != nil || !ok {
		t.Fatalf("QUERY APPROVED: %v, %v", ok, err)
	}
	ok, err = engine.IsAuthorised(ctx, Request{SessionToken: token, ServiceName: "StudentPersonals", Permission: model.RightCreate, Privilege: model.Approved})
	if err != nil || ok {
		t.Fatalf("CREATE APPROVED: %v, %v", ok, err)
	}

	tok, err := registrar.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", tok.Authorization())
	ok, err = engine.IsAuthorised(ctx, Request{Headers: headers, ServiceName: "StudentPersonals", Permission: model.RightQuery})
	if err != nil || !ok {
		t.Fatalf("header session: %v, %v", ok, err)
	}
}
