package lighting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/palpalette/client/pkg/palapi"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status *palapi.LightingStatus
		want   Step
		code   string
		ok     bool
	}{
		{
			name:   "pairing code present",
			status: &palapi.LightingStatus{Status: palapi.StatusAuthenticationRequired, StatusDetails: &palapi.StatusDetails{PairingCode: "123456"}},
			want:   StepEnterPairingCode,
			code:   "123456",
			ok:     true,
		},
		{
			name:   "empty details",
			status: &palapi.LightingStatus{Status: palapi.StatusAuthenticationRequired, StatusDetails: &palapi.StatusDetails{}},
			want:   StepPressPowerButton,
			ok:     true,
		},
		{
			name:   "no details at all",
			status: &palapi.LightingStatus{Status: palapi.StatusAuthenticationRequired},
			want:   StepPressPowerButton,
			ok:     true,
		},
		{
			name:   "explicit press power button",
			status: &palapi.LightingStatus{Status: palapi.StatusAuthenticationRequired, StatusDetails: &palapi.StatusDetails{AuthStep: "press_power_button"}},
			want:   StepPressPowerButton,
			ok:     true,
		},
		{
			name:   "other auth step",
			status: &palapi.LightingStatus{Status: palapi.StatusAuthenticationRequired, StatusDetails: &palapi.StatusDetails{AuthStep: "confirm_on_app"}},
			want:   StepWaiting,
			ok:     true,
		},
		{
			name:   "error",
			status: &palapi.LightingStatus{Status: palapi.StatusError},
			want:   StepFailed,
			ok:     true,
		},
		{
			name:   "working",
			status: &palapi.LightingStatus{Status: palapi.StatusWorking},
			want:   StepSuccess,
			ok:     true,
		},
		{
			name:   "unknown but configured and requiring auth",
			status: &palapi.LightingStatus{Status: palapi.StatusUnknown, Configured: true, RequiresAuthentication: true},
			want:   StepWaiting,
			ok:     true,
		},
		{
			name:   "unknown and unconfigured",
			status: &palapi.LightingStatus{Status: palapi.StatusUnknown, RequiresAuthentication: true},
		},
		{
			name:   "unrecognised status",
			status: &palapi.LightingStatus{Status: "rebooting"},
		},
		{
			name: "nil status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Classify(tt.status)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got.Step)
			require.Equal(t, tt.code, got.PairingCode)
		})
	}
}

func TestStepTerminal(t *testing.T) {
	t.Parallel()
	require.True(t, StepSuccess.Terminal())
	require.True(t, StepFailed.Terminal())
	require.False(t, StepWaiting.Terminal())
	require.False(t, StepNone.Terminal())
}
