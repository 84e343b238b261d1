package lighting

import (
	"fmt"

	"github.com/palpalette/client/pkg/palapi"
)

// Step is the user-facing stage of device authentication.
type Step string

const (
	StepNone             Step = ""
	StepPressPowerButton Step = "press_power_button"
	StepEnterPairingCode Step = "enter_pairing_code"
	StepWaiting          Step = "waiting"
	StepSuccess          Step = "success"
	StepFailed           Step = "failed"
)

// Terminal reports whether the step ends the flow.
func (s Step) Terminal() bool { return s == StepSuccess || s == StepFailed }

// Messages shown alongside steps.
const (
	MessageSuccess          = "Lighting system connected"
	MessageFailed           = "Lighting system reported an error"
	MessagePressPowerButton = "Press the power button on your lighting hub"
	MessageWaitingForDevice = "Waiting for the lighting system"
	MessageCheckingStatus   = "Checking system status"
	MessageProcessing       = "Processing…"
)

// Derivation is the step a status maps to.
type Derivation struct {
	Step        Step
	Message     string
	PairingCode string
}

// Classify maps a polled status to a step. It reports false when the status
// carries no information that should change the current step.
func Classify(st *palapi.LightingStatus) (Derivation, bool) {
	if st == nil {
		return Derivation{}, false
	}

	switch st.Status {
	case palapi.StatusWorking:
		return Derivation{Step: StepSuccess, Message: MessageSuccess}, true

	case palapi.StatusError:
		return Derivation{Step: StepFailed, Message: MessageFailed}, true

	case palapi.StatusAuthenticationRequired:
		var details palapi.StatusDetails
		if st.StatusDetails != nil {
			details = *st.StatusDetails
		}
		switch {
		case details.PairingCode != "":
			return Derivation{
				Step:        StepEnterPairingCode,
				Message:     fmt.Sprintf("Enter pairing code %s on your lighting system", details.PairingCode),
				PairingCode: details.PairingCode,
			}, true
		case details.AuthStep == "" || details.AuthStep == string(StepPressPowerButton):
			return Derivation{Step: StepPressPowerButton, Message: MessagePressPowerButton}, true
		default:
			return Derivation{Step: StepWaiting, Message: MessageWaitingForDevice}, true
		}

	case palapi.StatusUnknown:
		if st.RequiresAuthentication && st.Configured {
			return Derivation{Step: StepWaiting, Message: MessageCheckingStatus}, true
		}
	}

	return Derivation{}, false
}
