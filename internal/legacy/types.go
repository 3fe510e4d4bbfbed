package legacy

import "time"

// ChangeRow is one entry of the legacy change feed.
type ChangeRow struct {
	ExternalID int64
	PatientID  int64
	StatusCode int
	ChangedAt  time.Time
}

// Detail is the full appointment detail row, in the feed's column order.
// Everything a notification template can render travels with it, so the
// reminder worker never has to requery these volatile fields.
type Detail struct {
	ExternalID       int64
	FacilityID       int64
	ServiceID        int64
	SpecialtyID      int64
	ClassificationID int64

	DocType          string
	DocNumber        string
	PatientLastName  string
	PatientFirstName string

	DateRaw string
	TimeRaw string

	ProfessionalLastName  string
	ProfessionalFirstName string
	ServiceName           string
	SpecialtyName         string
	FacilityName          string
	Street                string
	StreetNumber          string
	StreetLetter          string
	CoordX                string
	CoordY                string
	FacilityPhone         string
	StreetName            string

	PhoneArea   string
	PhoneNumber string
}

// TemplateData builds the placeholder map notification templates render.
// Key names are the legacy template vocabulary and must stay stable.
func (d *Detail) TemplateData() map[string]string {
	return map[string]string{
		"nompac":       d.PatientFirstName,
		"apepac":       d.PatientLastName,
		"fecha":        DisplayDate(d.DateRaw),
		"horaturno":    DisplayClock(d.TimeRaw),
		"nomprof":      d.ProfessionalFirstName,
		"apeprof":      d.ProfessionalLastName,
		"especialidad": d.SpecialtyName,
		"efector":      d.FacilityName,
		"servicio":     d.ServiceName,
		"calle":        d.Street,
		"altura":       d.StreetNumber,
		"letra":        d.StreetLetter,
		"coordx":       d.CoordX,
		"coordy":       d.CoordY,
		"tel_efe":      d.FacilityPhone,
		"calle_nom":    d.StreetName,
	}
}

// PatientContact is the subset of patient detail needed for a cancellation
// notice.
type PatientContact struct {
	LastName    string
	FirstName   string
	PhoneArea   string
	PhoneNumber string
}

// FacilityContact is the facility address/contact detail.
type FacilityContact struct {
	Name         string
	Street       string
	StreetNumber string
	StreetLetter string
	CoordX       string
	CoordY       string
	Phone        string
	StreetName   string
}
