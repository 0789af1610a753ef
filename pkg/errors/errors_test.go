package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestLockConflictUnwrapsToBusy(t *testing.T) {
	err := fmt.Errorf("launch: %w", &LockConflictError{PID: 4821, ProfileDir: "/p/a"})

	if !errors.Is(err, ErrProfileBusy) {
		t.Fatalf("expected ErrProfileBusy in chain, got %v", err)
	}

	var conflict *LockConflictError
	if !errors.As(err, &conflict) {
		t.Fatal("expected errors.As to find LockConflictError")
	}
	if conflict.PID != 4821 {
		t.Errorf("PID = %d, want 4821", conflict.PID)
	}
}

func TestWrappedErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"profile", &ProfileError{ProfileID: "abc", Err: ErrProfileNotFound}, "profile 'abc': profile not found"},
		{"relay", &RelayError{Engine: "xray", Err: ErrRelayUnavailable}, "xray relay: relay could not be started"},
		{"source by name", &SourceError{Name: "geonode", URL: "https://x", Err: ErrSourceFetchFailed}, "source 'geonode': failed to fetch proxy source"},
		{"source by url", &SourceError{URL: "https://x", Err: ErrSourceFetchFailed}, "source 'https://x': failed to fetch proxy source"},
		{"network", &NetworkError{Address: "1.2.3.4", Port: 80, Err: errors.New("refused")}, "network error (1.2.3.4:80): refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
