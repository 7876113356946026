package domain

import "time"

// ProviderStatus is the lifecycle status of a provider profile.
type ProviderStatus string

const (
	ProviderOnboarding    ProviderStatus = "onboarding"
	ProviderPendingReview ProviderStatus = "pending_review"
	ProviderActive        ProviderStatus = "active"
	ProviderSuspended     ProviderStatus = "suspended"
	ProviderInactive      ProviderStatus = "inactive"
)

// BackgroundStatus is the state of a provider's background check.
type BackgroundStatus string

const (
	BackgroundNotSubmitted BackgroundStatus = "not_submitted"
	BackgroundPending      BackgroundStatus = "pending"
	BackgroundCleared      BackgroundStatus = "cleared"
	BackgroundFlagged      BackgroundStatus = "flagged"
	BackgroundExpired      BackgroundStatus = "expired"
	BackgroundRejected     BackgroundStatus = "rejected"
)

// BackgroundCheck is the embedded background-check state on a profile.
type BackgroundCheck struct {
	Status BackgroundStatus `json:"status"`
	Date   *time.Time       `json:"date,omitempty"`
	Expiry *time.Time       `json:"expiry,omitempty"`
}

// ClearedAt reports whether the check is cleared and unexpired at now.
func (b BackgroundCheck) ClearedAt(now time.Time) bool {
	if b.Status != BackgroundCleared {
		return false
	}
	return b.Expiry == nil || b.Expiry.After(now)
}

// ProviderProfile is a vetted field provider. InternalScore is authoritative
// and mutated only by the scoring ledger.
type ProviderProfile struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	Level                 int             `json:"level"` // 1..4
	Status                ProviderStatus  `json:"status"`
	BackgroundCheck       BackgroundCheck `json:"background_check"`
	InternalScore         float64         `json:"internal_score"` // 0..100
	ServiceRadiusKm       float64         `json:"service_radius_km"`
	HomeLat               *float64        `json:"home_lat,omitempty"`
	HomeLng               *float64        `json:"home_lng,omitempty"`
	MaxConcurrentJobs     int             `json:"max_concurrent_jobs"`
	AvailableForEmergency bool            `json:"available_for_emergency"`
	IsOnline              bool            `json:"is_online"`
}

// CredentialType classifies provider credentials.
type CredentialType string

const (
	CredentialLicense         CredentialType = "license"
	CredentialCertification   CredentialType = "certification"
	CredentialPermit          CredentialType = "permit"
	CredentialTraining        CredentialType = "training"
	CredentialBackgroundCheck CredentialType = "background_check"
	CredentialPortfolio       CredentialType = "portfolio"
)

// CredentialStatus is the verification state of a credential.
type CredentialStatus string

const (
	CredentialPendingReview CredentialStatus = "pending_review"
	CredentialVerified      CredentialStatus = "verified"
	CredentialRejected      CredentialStatus = "rejected"
	CredentialExpired       CredentialStatus = "expired"
	CredentialRevoked       CredentialStatus = "revoked"
)

// Credential is a document a provider has submitted for vetting. The blob
// itself lives in external storage; FileRef points at it.
type Credential struct {
	ID           string           `json:"id"`
	ProviderID   string           `json:"provider_id"`
	Type         CredentialType   `json:"type"`
	Name         string           `json:"name"`
	Status       CredentialStatus `json:"status"`
	FileRef      string           `json:"file_ref,omitempty"`
	TaskID       *string          `json:"task_id,omitempty"`
	IssuedDate   *time.Time       `json:"issued_date,omitempty"`
	ExpiryDate   *time.Time       `json:"expiry_date,omitempty"`
	Jurisdiction *string          `json:"jurisdiction,omitempty"`
}

// InsuranceStatus is the verification state of an insurance policy.
type InsuranceStatus string

const (
	InsurancePendingReview InsuranceStatus = "pending_review"
	InsuranceVerified      InsuranceStatus = "verified"
	InsuranceExpired       InsuranceStatus = "expired"
	InsuranceCancelled     InsuranceStatus = "cancelled"
	InsuranceRejected      InsuranceStatus = "rejected"
)

// InsurancePolicy is a provider's liability coverage.
type InsurancePolicy struct {
	ID            string          `json:"id"`
	ProviderID    string          `json:"provider_id"`
	PolicyType    string          `json:"policy_type"`
	CoverageCents int64           `json:"coverage_cents"`
	EffectiveDate time.Time       `json:"effective_date"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	Status        InsuranceStatus `json:"status"`
}

// ShiftStatus is the state of an on-call shift.
type ShiftStatus string

const (
	ShiftScheduled ShiftStatus = "scheduled"
	ShiftActive    ShiftStatus = "active"
	ShiftCompleted ShiftStatus = "completed"
	ShiftCancelled ShiftStatus = "cancelled"
	ShiftNoShow    ShiftStatus = "no_show"
)

// OnCallShift is a committed emergency-dispatch window for a Level-4
// provider.
type OnCallShift struct {
	ID          string      `json:"id"`
	ProviderID  string      `json:"provider_id"`
	ShiftStart  time.Time   `json:"shift_start"`
	ShiftEnd    time.Time   `json:"shift_end"`
	RegionType  RegionType  `json:"region_type"`
	RegionValue string      `json:"region_value"`
	Status      ShiftStatus `json:"status"`
}

// TaskQualification marks a provider as qualified for a catalog task.
type TaskQualification struct {
	ProviderID  string     `json:"provider_id"`
	TaskID      string     `json:"task_id"`
	Qualified   bool       `json:"qualified"`
	QualifiedAt *time.Time `json:"qualified_at,omitempty"`
	AutoGranted bool       `json:"auto_granted"`
}

// PenaltyType classifies score deductions and recoveries.
type PenaltyType string

const (
	PenaltyResponseTimeout PenaltyType = "response_timeout"
	PenaltyCancellation    PenaltyType = "cancellation"
	PenaltyNoShow          PenaltyType = "no_show"
	PenaltyBadReview       PenaltyType = "bad_review"
	PenaltySlaBreach       PenaltyType = "sla_breach"
	PenaltyAdminAdjust     PenaltyType = "admin_adjustment"
	PenaltyScoreRecovery   PenaltyType = "score_recovery"
	PenaltyCredentialLapse PenaltyType = "credential_lapse"
)

// PenaltyRecord is an append-only ledger row. Recoveries carry negative
// PointsDeducted.
type PenaltyRecord struct {
	ID             string      `json:"id"`
	ProviderID     string      `json:"provider_id"`
	PenaltyType    PenaltyType `json:"penalty_type"`
	PointsDeducted float64     `json:"points_deducted"`
	Reason         string      `json:"reason,omitempty"`
	JobID          *string     `json:"job_id,omitempty"`
	AppliedAt      time.Time   `json:"applied_at"`
}
