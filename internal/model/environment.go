package model

import (
	"encoding/xml"
	"fmt"
)

// Namespace is the SIF infrastructure namespace written on outbound documents.
const Namespace = "http://www.sifassociation.org/infrastructure/3.2.1"

// EnvironmentType distinguishes broker mediated environments from direct ones.
type EnvironmentType string

const (
	EnvironmentDirect   EnvironmentType = "DIRECT"
	EnvironmentBrokered EnvironmentType = "BROKERED"
)

// ServiceType classifies provisioned services.
type ServiceType string

const (
	ServiceObject         ServiceType = "OBJECT"
	ServiceFunctional     ServiceType = "FUNCTIONAL"
	ServiceUtility        ServiceType = "UTILITY"
	ServiceXQueryTemplate ServiceType = "XQUERYTEMPLATE"
	ServiceServicePath    ServiceType = "SERVICEPATH"
)

// DefaultContextID is applied when a service omits its context.
const DefaultContextID = "DEFAULT"

// Well known infrastructure service names.
const (
	InfraEnvironment       = "environment"
	InfraProvisionRequests = "provisionRequests"
	InfraQueues            = "queues"
	InfraRequestsConnector = "requestsConnector"
	InfraServicesConnector = "servicesConnector"
	InfraSubscriptions     = "subscriptions"
)

type ApplicationProduct struct {
	VendorName     string `xml:"vendorName,omitempty" json:"vendor_name,omitempty"`
	ProductName    string `xml:"productName,omitempty" json:"product_name,omitempty"`
	ProductVersion string `xml:"productVersion,omitempty" json:"product_version,omitempty"`
}

type ApplicationInfo struct {
	ApplicationKey                 string              `xml:"applicationKey" json:"application_key"`
	SupportedInfrastructureVersion string              `xml:"supportedInfrastructureVersion,omitempty" json:"supported_infrastructure_version,omitempty"`
	DataModelNamespace             string              `xml:"dataModelNamespace,omitempty" json:"data_model_namespace,omitempty"`
	Transport                      string              `xml:"transport,omitempty" json:"transport,omitempty"`
	ApplicationProduct             *ApplicationProduct `xml:"applicationProduct,omitempty" json:"application_product,omitempty"`
}

// Zone is a named data partition.
type Zone struct {
	ID          string `xml:"id,attr" json:"id"`
	Description string `xml:"description,omitempty" json:"description,omitempty"`
}

// InfrastructureService is a named endpoint, <infrastructureService name="x">url</infrastructureService>.
type InfrastructureService struct {
	Name  string `xml:"name,attr" json:"name"`
	Value string `xml:",chardata" json:"value"`
}

// Service is a provisioned service inside a zone.
type Service struct {
	Type      ServiceType `xml:"type,attr" json:"type"`
	Name      string      `xml:"name,attr" json:"name"`
	ContextID string      `xml:"contextId,attr,omitempty" json:"context_id,omitempty"`
	Rights    Rights      `xml:"rights>right" json:"rights"`
}

// Context returns the service context, defaulting when unset.
func (s Service) Context() string {
	if s.ContextID == "" {
		return DefaultContextID
	}
	return s.ContextID
}

type ProvisionedZone struct {
	ID       string    `xml:"id,attr" json:"id"`
	Services []Service `xml:"services>service" json:"services"`
}

// FindService returns the service matching type and name exactly.
func (z ProvisionedZone) FindService(typ ServiceType, name, contextID string) (Service, bool) {
	for _, svc := range z.Services {
		if svc.Type != typ || svc.Name != name {
			continue
		}
		if contextID != "" && svc.Context() != contextID {
			continue
		}
		return svc, true
	}
	return Service{}, false
}

// Environment describes a registered session with an environment authority.
type Environment struct {
	XMLName                xml.Name                `xml:"environment" json:"-"`
	Xmlns                  string                  `xml:"xmlns,attr,omitempty" json:"-"`
	ID                     string                  `xml:"id,attr,omitempty" json:"id"`
	Fingerprint            string                  `xml:"fingerprint,omitempty" json:"fingerprint,omitempty"`
	SessionToken           string                  `xml:"sessionToken,omitempty" json:"session_token,omitempty"`
	SolutionID             string                  `xml:"solutionId,omitempty" json:"solution_id,omitempty"`
	DefaultZone            *Zone                   `xml:"defaultZone,omitempty" json:"default_zone,omitempty"`
	AuthenticationMethod   string                  `xml:"authenticationMethod,omitempty" json:"authentication_method,omitempty"`
	InstanceID             string                  `xml:"instanceId,omitempty" json:"instance_id,omitempty"`
	UserToken              string                  `xml:"userToken,omitempty" json:"user_token,omitempty"`
	ConsumerName           string                  `xml:"consumerName,omitempty" json:"consumer_name,omitempty"`
	Type                   EnvironmentType         `xml:"type,omitempty" json:"type,omitempty"`
	ApplicationInfo        ApplicationInfo         `xml:"applicationInfo" json:"application_info"`
	InfrastructureServices []InfrastructureService `xml:"infrastructureServices>infrastructureService,omitempty" json:"infrastructure_services,omitempty"`
	ProvisionedZones       []ProvisionedZone       `xml:"provisionedZones>provisionedZone,omitempty" json:"provisioned_zones,omitempty"`
}

// Key returns the unique identifiers the environment was requested under.
func (e *Environment) Key() RegisterKey {
	return RegisterKey{
		ApplicationKey: e.ApplicationInfo.ApplicationKey,
		InstanceID:     e.InstanceID,
		UserToken:      e.UserToken,
		SolutionID:     e.SolutionID,
	}
}

// InfrastructureURL looks up a named infrastructure service.
func (e *Environment) InfrastructureURL(name string) (string, bool) {
	for _, svc := range e.InfrastructureServices {
		if svc.Name == name {
			return svc.Value, true
		}
	}
	return "", false
}

// Zone returns the provisioned zone with the given id.
func (e *Environment) Zone(id string) (ProvisionedZone, bool) {
	for _, z := range e.ProvisionedZones {
		if z.ID == id {
			return z, true
		}
	}
	return ProvisionedZone{}, false
}

// Validate checks every provisioned service's rights.
func (e *Environment) Validate() error {
	return validateZones(e.ProvisionedZones)
}

// Clone returns a deep copy.
func (e *Environment) Clone() *Environment {
	if e == nil {
		return nil
	}
	out := *e
	if e.DefaultZone != nil {
		z := *e.DefaultZone
		out.DefaultZone = &z
	}
	if e.ApplicationInfo.ApplicationProduct != nil {
		p := *e.ApplicationInfo.ApplicationProduct
		out.ApplicationInfo.ApplicationProduct = &p
	}
	out.InfrastructureServices = append([]InfrastructureService(nil), e.InfrastructureServices...)
	out.ProvisionedZones = cloneZones(e.ProvisionedZones)
	return &out
}

func validateZones(zones []ProvisionedZone) error {
	for _, z := range zones {
		for _, svc := range z.Services {
			if err := svc.Rights.Validate(); err != nil {
				return fmt.Errorf("zone %s service %s %s: %w", z.ID, svc.Type, svc.Name, err)
			}
		}
	}
	return nil
}

func cloneZones(zones []ProvisionedZone) []ProvisionedZone {
	if zones == nil {
		return nil
	}
	out := make([]ProvisionedZone, len(zones))
	for i, z := range zones {
		out[i].ID = z.ID
		out[i].Services = make([]Service, len(z.Services))
		for j, svc := range z.Services {
			svc.Rights = append(Rights(nil), svc.Rights...)
			out[i].Services[j] = svc
		}
	}
	return out
}
