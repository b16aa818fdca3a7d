// Copyright 2025 Wabiifour Tech
// SPDX-License-Identifier: Apache-2.0

package offlinedb

// Store names, one per domain entity type. The set is fixed at the current
// schema version; adding a store means advancing the schema version.
const (
	StorePatients           = "patients"
	StoreVitals             = "vitals"
	StoreConsultations      = "consultations"
	StoreAppointments       = "appointments"
	StoreLabRequests        = "lab_requests"
	StoreLabResults         = "lab_results"
	StorePrescriptions      = "prescriptions"
	StoreQueueEntries       = "queue_entries"
	StoreAdmissions         = "admissions"
	StoreAnnouncements      = "announcements"
	StoreVoiceNotes         = "voice_notes"
	StoreCertificates       = "certificates"
	StoreReferrals          = "referrals"
	StoreDischargeSummaries = "discharge_summaries"
	StoreDrugs              = "drugs"
	StoreRosters            = "rosters"
)

var storeSet = map[string]bool{
	StorePatients:           true,
	StoreVitals:             true,
	StoreConsultations:      true,
	StoreAppointments:       true,
	StoreLabRequests:        true,
	StoreLabResults:         true,
	StorePrescriptions:      true,
	StoreQueueEntries:       true,
	StoreAdmissions:         true,
	StoreAnnouncements:      true,
	StoreVoiceNotes:         true,
	StoreCertificates:       true,
	StoreReferrals:          true,
	StoreDischargeSummaries: true,
	StoreDrugs:              true,
	StoreRosters:            true,
}

// Stores returns the declared store set.
func Stores() []string {
	names := make([]string, 0, len(storeSet))
	for name := range storeSet {
		names = append(names, name)
	}
	return names
}

// KnownStore reports whether name belongs to the declared store set.
func KnownStore(name string) bool {
	return storeSet[name]
}
