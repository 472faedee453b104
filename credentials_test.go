package bugdrill

import "testing"

func TestCredential_Complete(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{
			name: "both tokens",
			cred: Credential{AccessToken: "a", RefreshToken: "r"},
			want: true,
		},
		{
			name: "access only",
			cred: Credential{AccessToken: "a"},
			want: false,
		},
		{
			name: "refresh only",
			cred: Credential{RefreshToken: "r"},
			want: false,
		},
		{
			name: "empty",
			cred: Credential{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.Complete(); got != tt.want {
				t.Errorf("Complete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredential_HasRefreshToken(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{
			name: "has refresh token",
			cred: Credential{RefreshToken: "abc123"},
			want: true,
		},
		{
			name: "no refresh token",
			cred: Credential{AccessToken: "abc123"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.HasRefreshToken(); got != tt.want {
				t.Errorf("HasRefreshToken() = %v, want %v", got, tt.want)
			}
		})
	}
}
