package model

// RegisterKey is the unique lookup tuple for environment registers and
// sessions. Empty strings stand for absent values.
type RegisterKey struct {
	ApplicationKey string
	InstanceID     string
	UserToken      string
	SolutionID     string
}

// ApplicationRegister is provisioned by an administrator and read-only at runtime.
type ApplicationRegister struct {
	ID                   string
	ApplicationKey       string
	SharedSecret         string
	EnvironmentRegisters []EnvironmentRegister
}

// EnvironmentRegister is the template an application instance is entitled to.
type EnvironmentRegister struct {
	ID                     string                  `json:"id"`
	ApplicationKey         string                  `json:"application_key"`
	InstanceID             string                  `json:"instance_id,omitempty"`
	UserToken              string                  `json:"user_token,omitempty"`
	SolutionID             string                  `json:"solution_id,omitempty"`
	DefaultZone            Zone                    `json:"default_zone"`
	ProvisionedZones       []ProvisionedZone       `json:"provisioned_zones"`
	InfrastructureServices []InfrastructureService `json:"infrastructure_services,omitempty"`
}

// Key returns the register's unique identifiers.
func (r *EnvironmentRegister) Key() RegisterKey {
	return RegisterKey{
		ApplicationKey: r.ApplicationKey,
		InstanceID:     r.InstanceID,
		UserToken:      r.UserToken,
		SolutionID:     r.SolutionID,
	}
}

// Validate checks every provisioned service's rights.
func (r *EnvironmentRegister) Validate() error {
	return validateZones(r.ProvisionedZones)
}

// Clone returns a deep copy.
func (r *EnvironmentRegister) Clone() *EnvironmentRegister {
	if r == nil {
		return nil
	}
	out := *r
	out.ProvisionedZones = cloneZones(r.ProvisionedZones)
	out.InfrastructureServices = append([]InfrastructureService(nil), r.InfrastructureServices...)
	return &out
}

// Session is the locally persisted record of one registered connection.
type Session struct {
	ID             string
	ApplicationKey string
	EnvironmentURL string
	InstanceID     string
	QueueID        string
	SessionToken   string
	SolutionID     string
	SubscriptionID string
	UserToken      string
}

// Key returns the session's unique identifiers.
func (s *Session) Key() RegisterKey {
	return RegisterKey{
		ApplicationKey: s.ApplicationKey,
		InstanceID:     s.InstanceID,
		UserToken:      s.UserToken,
		SolutionID:     s.SolutionID,
	}
}
