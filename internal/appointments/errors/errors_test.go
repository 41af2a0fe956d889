package errors

import "testing"

func TestErrorCode_Retryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{CodeValidationFailed, false},
		{CodeLockAcquisitionFailed, true},
		{CodeSlotNotAvailable, true},
		{CodeCreationFailed, false},
		{CodeCommitFailed, false},
		{CodeSystemError, true},
		{CodeMaxRetriesExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := tt.code.Retryable(); got != tt.want {
				t.Errorf("%s.Retryable() = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}
