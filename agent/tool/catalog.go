// Package tool binds the closed set of scheduling tools the turn generator
// may request and dispatches them against the retriever and ledger.
package tool

// The tool set is a closed variant set: adding a tool means adding a
// constant, a Spec, and a dispatch arm. There is no reflective registration.
const (
	ToolRetrievePatientInfo = "retrieve_patient_information"
	ToolFindSchedule        = "find_schedule"
	ToolScheduleAppointment = "schedule_appointment"
)

// ParamSpec describes one tool argument for generator binding.
type ParamSpec struct {
	Name     string
	Desc     string
	Required bool
}

// Spec describes one tool for generator binding.
type Spec struct {
	Name   string
	Desc   string
	Params []ParamSpec
}

// Specs returns the generator-facing catalog of every dispatchable tool.
func Specs() []Spec {
	return []Spec{
		{
			Name: ToolRetrievePatientInfo,
			Desc: "Retrieves the patient information/records.",
			Params: []ParamSpec{
				{Name: "name", Desc: "The patient's name to be retrieved", Required: true},
			},
		},
		{
			Name: ToolFindSchedule,
			Desc: "Finds the doctor's schedule on a specific date. Use this when asked if an appointment can be scheduled on a particular date.",
			Params: []ParamSpec{
				{Name: "date", Desc: "Date to retrieve in YYYY-MM-DD format", Required: true},
			},
		},
		{
			Name: ToolScheduleAppointment,
			Desc: "Schedules an appointment given a specific date and time.",
			Params: []ParamSpec{
				{Name: "date", Desc: "Date of appointment in YYYY-MM-DD format", Required: true},
				{Name: "time", Desc: "Time of appointment in format similar to 1pm or 12am", Required: true},
				{Name: "name", Desc: "Name of patient in First Last format", Required: true},
			},
		},
	}
}
