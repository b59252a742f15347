package types

import "time"

// Privacy indicates whether an entity's personal data may be disclosed
type Privacy string

const (
	PrivacyOpen      Privacy = "open"
	PrivacyProtected Privacy = "protected"
)

// PersonKind distinguishes natural from legal persons
type PersonKind string

const (
	PersonNatural PersonKind = "natural"
	PersonLegal   PersonKind = "legal"
)

// EntityStatus filters search results by activity state
type EntityStatus string

const (
	StatusActive EntityStatus = "active"
	StatusCeased EntityStatus = "ceased"
	StatusAll    EntityStatus = "all"
)

// LegalForm pairs a legal category code with its label
type LegalForm struct {
	Code  string `json:"code,omitempty"`
	Label string `json:"label,omitempty"`
}

// GeoPoint is a WGS84 coordinate pair
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Address locates an entity or establishment. Street and Geo are
// nil on protected records after redaction.
type Address struct {
	HouseNumber string    `json:"house_number,omitempty"`
	Street      string    `json:"street,omitempty"`
	PostalCode  string    `json:"postal_code,omitempty"`
	City        string    `json:"city,omitempty"`
	Geo         *GeoPoint `json:"geo,omitempty"`
}

// Executive is a company officer. BirthDate carries at most
// year-month precision for natural persons.
type Executive struct {
	Role        string     `json:"role,omitempty"`
	Surname     string     `json:"surname,omitempty"`
	GivenName   string     `json:"given_name,omitempty"`
	BirthDate   string     `json:"birth_date,omitempty"`
	BirthPlace  string     `json:"birth_place,omitempty"`
	Nationality string     `json:"nationality,omitempty"`
	Kind        PersonKind `json:"kind,omitempty"`
	CompanyName string     `json:"company_name,omitempty"`
}

// Establishment is one site of a business entity
type Establishment struct {
	EstablishmentKey string   `json:"establishment_key"`
	Headquarters     bool     `json:"headquarters"`
	Address          *Address `json:"address,omitempty"`
	SizeBucket       string   `json:"size_bucket,omitempty"`
	ActivityCode     string   `json:"activity_code,omitempty"`
	Active           bool     `json:"active"`
}

// Financials holds registered capital figures
type Financials struct {
	ShareCapital float64 `json:"share_capital,omitempty"`
	Currency     string  `json:"currency,omitempty"`
}

// BusinessEntity is the canonical merged company record. Dates are
// civil dates in YYYY-MM-DD form.
type BusinessEntity struct {
	BusinessKey        string          `json:"business_key"`
	EstablishmentKey   string          `json:"establishment_key,omitempty"`
	Name               string          `json:"name"`
	Acronym            string          `json:"acronym,omitempty"`
	LegalForm          *LegalForm      `json:"legal_form,omitempty"`
	ActivityCode       string          `json:"activity_code,omitempty"`
	SizeBucket         string          `json:"size_bucket,omitempty"`
	CreationDate       string          `json:"creation_date,omitempty"`
	CessationDate      string          `json:"cessation_date,omitempty"`
	Active             bool            `json:"active"`
	Privacy            Privacy         `json:"privacy,omitempty"`
	Address            *Address        `json:"address,omitempty"`
	Executives         []Executive     `json:"executives,omitempty"`
	Establishments     []Establishment `json:"establishments,omitempty"`
	EstablishmentCount int             `json:"establishment_count,omitempty"`
	Financials         *Financials     `json:"financials,omitempty"`
	Certifications     []Certification `json:"certifications,omitempty"`
	Sources            []string        `json:"sources,omitempty"`
	PrivacyNotice      string          `json:"privacy_notice,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at,omitzero"`
}

// AnnouncementKind tags legal announcements by register section
type AnnouncementKind string

const (
	AnnouncementSale                AnnouncementKind = "sale"
	AnnouncementCreation            AnnouncementKind = "creation"
	AnnouncementCollectiveProcedure AnnouncementKind = "collective-procedure"
	AnnouncementAccountsFiling      AnnouncementKind = "accounts-filing"
	AnnouncementCorrection          AnnouncementKind = "correction"
)

// Announcement is one published legal notice
type Announcement struct {
	ID              string           `json:"id"`
	Kind            AnnouncementKind `json:"kind,omitempty"`
	PublicationDate string           `json:"publication_date,omitempty"`
	Court           string           `json:"court,omitempty"`
	BusinessKey     string           `json:"business_key,omitempty"`
	Title           string           `json:"title,omitempty"`
	Text            string           `json:"text,omitempty"`
	PDFURL          string           `json:"pdf_url,omitempty"`
}

// Competency is one certified work domain on a certification
type Competency struct {
	Code  string `json:"code,omitempty"`
	Label string `json:"label,omitempty"`
}

// Certification is an environmental or quality label held by an entity
type Certification struct {
	Type         string       `json:"type"`
	Code         string       `json:"code,omitempty"`
	Name         string       `json:"name,omitempty"`
	Issuer       string       `json:"issuer,omitempty"`
	ValidUntil   string       `json:"valid_until,omitempty"`
	Valid        bool         `json:"valid"`
	Domain       string       `json:"domain,omitempty"`
	Competencies []Competency `json:"competencies,omitempty"`
}

// RGESummary condenses the RGE certifications of one entity
type RGESummary struct {
	Certified   bool     `json:"certified"`
	Domains     []string `json:"domains,omitempty"`
	ActiveCount int      `json:"active_count"`
	NextExpiry  string   `json:"next_expiry,omitempty"`
}

// CertificationSummary is the per-label certification digest
type CertificationSummary struct {
	RGE      RGESummary `json:"rge"`
	Bio      bool       `json:"bio"`
	ESS      bool       `json:"ess"`
	Qualiopi bool       `json:"qualiopi"`
}

// DocumentKind tags official documents by register source
type DocumentKind string

const (
	DocumentAct        DocumentKind = "act"
	DocumentAccounts   DocumentKind = "accounts"
	DocumentStatutes   DocumentKind = "statutes"
	DocumentExtract    DocumentKind = "extract"
	DocumentFiscalCert DocumentKind = "fiscal_cert"
	DocumentSocialCert DocumentKind = "social_cert"
)

// Document is an official document, delivered as bytes or as a
// temporary URL with an expiry
type Document struct {
	ID           string       `json:"id,omitempty"`
	BusinessKey  string       `json:"business_key"`
	Kind         DocumentKind `json:"kind"`
	Name         string       `json:"name,omitempty"`
	Year         int          `json:"year,omitempty"`
	Date         string       `json:"date,omitempty"`
	Content      []byte       `json:"content,omitempty"`
	URL          string       `json:"url,omitempty"`
	URLExpiresAt time.Time    `json:"url_expires_at,omitzero"`
	Size         int64        `json:"size,omitempty"`
	MimeType     string       `json:"mime_type,omitempty"`
	Filename     string       `json:"filename,omitempty"`
	Provider     string       `json:"provider,omitempty"`
}

// Association is a declared non-profit association
type Association struct {
	RNAID           string   `json:"rna_id"`
	BusinessKey     string   `json:"business_key,omitempty"`
	Name            string   `json:"name"`
	Object          string   `json:"object,omitempty"`
	Nature          string   `json:"nature,omitempty"`
	Address         *Address `json:"address,omitempty"`
	CreationDate    string   `json:"creation_date,omitempty"`
	DissolutionDate string   `json:"dissolution_date,omitempty"`
	Active          bool     `json:"active"`
}

// RiskLevel grades collective-procedure exposure
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// FinancialHealth summarizes collective procedures for one entity
type FinancialHealth struct {
	ProceduresCount int       `json:"procedures_count"`
	HasRecent       bool      `json:"has_recent"`
	Risk            RiskLevel `json:"risk"`
}

// TimelineYear groups announcements published in one year
type TimelineYear struct {
	Year          string         `json:"year"`
	Announcements []Announcement `json:"announcements"`
}

// Pagination describes a paginated result window
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// SearchFilters narrows entity searches
type SearchFilters struct {
	ActivityCode string       `json:"activity_code,omitempty"`
	PostalCode   string       `json:"postal_code,omitempty"`
	Department   string       `json:"department,omitempty"`
	SizeBucket   string       `json:"size_bucket,omitempty"`
	Status       EntityStatus `json:"status,omitempty"`
}

// ProfileMetadata describes how a merged record was assembled
type ProfileMetadata struct {
	Sources        []string `json:"sources"`
	ResponseTimeMS int64    `json:"response_time_ms"`
	DataFreshness  string   `json:"data_freshness,omitempty"`
	Completeness   float64  `json:"completeness"`
}

// AuditEntry is one append-only audit record
type AuditEntry struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Tool           string            `json:"tool"`
	Operation      string            `json:"operation,omitempty"`
	BusinessKey    string            `json:"business_key,omitempty"`
	CallerID       string            `json:"caller_id,omitempty"`
	IP             string            `json:"ip,omitempty"`
	ResponseTimeMS int64             `json:"response_time_ms"`
	StatusCode     int               `json:"status_code"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
