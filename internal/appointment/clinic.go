package appointment

import (
	"fmt"
	"strings"
)

type ClinicLocation string

const (
	ClinicSeremban    ClinicLocation = "seremban"
	ClinicNilai       ClinicLocation = "nilai"
	ClinicPortDickson ClinicLocation = "port_dickson"
)

type Clinic struct {
	Location ClinicLocation
	Name     string
	// CodePrefix is the PFX part of visit codes issued at this site.
	CodePrefix string
}

var clinics = map[ClinicLocation]Clinic{
	ClinicSeremban:    {Location: ClinicSeremban, Name: "Klinik Pergigian Seremban", CodePrefix: "SRB"},
	ClinicNilai:       {Location: ClinicNilai, Name: "Klinik Pergigian Nilai", CodePrefix: "NLI"},
	ClinicPortDickson: {Location: ClinicPortDickson, Name: "Klinik Pergigian Port Dickson", CodePrefix: "PDS"},
}

// Clinics returns the configured sites in a stable order.
func Clinics() []Clinic {
	return []Clinic{clinics[ClinicSeremban], clinics[ClinicNilai], clinics[ClinicPortDickson]}
}

func (c ClinicLocation) Valid() bool {
	_, ok := clinics[c]
	return ok
}

func (c ClinicLocation) Info() Clinic {
	return clinics[c]
}

func ParseClinic(raw string) (ClinicLocation, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	c := ClinicLocation(norm)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownClinic, raw)
	}
	return c, nil
}
