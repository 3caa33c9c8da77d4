package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/fleetgate/fleetgate-core/internal/auth"
)

func TestAuthenticate_RejectsBadHeaders(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "user@example.com", auth.RoleAdmin, "")

	wrongSecret, err := auth.GenerateAccessToken(user, nil, "another-secret-also-32-chars-long!!!", time.Minute)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	tests := map[string]string{
		"NoHeader":    "",
		"NotBearer":   "Basic dXNlcjpwYXNz",
		"BareBearer":  "Bearer",
		"Garbage":     "Bearer not-a-jwt",
		"WrongSecret": "Bearer " + wrongSecret,
	}

	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/auth/me", nil)
			if err != nil {
				t.Fatalf("building request: %v", err)
			}
			if header != "" {
				req.Header.Set("Authorization", header)
			}

			resp, err := env.ts.Client().Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestAuthenticate_AcceptsValidToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user@example.com", auth.RoleAdmin, "")

	tokens := env.login(t, "user@example.com")
	resp := env.doJSON(t, http.MethodGet, "/api/v1/auth/me", tokens.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRequireRole(t *testing.T) {
	env := newTestEnv(t)
	f := env.seedFleet(t, "North")
	env.seedUser(t, "user@example.com", auth.RoleFleetUser, f.ID)
	env.seedUser(t, "admin@example.com", auth.RoleAdmin, "")

	userTokens := env.login(t, "user@example.com")
	resp := env.doJSON(t, http.MethodPost, "/api/v1/fleets", userTokens.AccessToken,
		createFleetRequest{Name: "Rogue"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("fleet user status = %d, want 403", resp.StatusCode)
	}

	adminTokens := env.login(t, "admin@example.com")
	resp = env.doJSON(t, http.MethodPost, "/api/v1/fleets", adminTokens.AccessToken,
		createFleetRequest{Name: "Legit"})
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("admin status = %d, want 201", resp.StatusCode)
	}
}
