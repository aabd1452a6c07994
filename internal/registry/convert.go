package registry

import "github.com/vitalmesh/pulsegrid/internal/envelope"

func envelopePatientProfile(p Patient) envelope.PatientProfile {
	return envelope.PatientProfile{Age: p.Age, Sex: p.Sex}
}
