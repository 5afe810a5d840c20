// Package testhelpers provides sqlite-backed fixtures, seeded gyms and signed
// tokens and webhooks for tests.
package testhelpers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"gymStreakAPI/internal/persistence/sqlite"
	"gymStreakAPI/internal/types/gym"
)

// TestJWTSecret signs the HS256 tokens minted by GenerateTestJWT.
const TestJWTSecret = "test-secret-key-for-testing-only"

// TestWebhookSecret is a svix style secret, base64 after the prefix.
const TestWebhookSecret = "whsec_dGVzdC13ZWJob29rLXNlY3JldA=="

type Fixture struct {
	DB         *sql.DB
	Attendance *sqlite.AttendanceRepository
	Streaks    *sqlite.StreakRepository
	Directory  *sqlite.Directory
}

// NewSQLiteFixture opens a fresh database in a temp dir, closed on cleanup.
func NewSQLiteFixture(t *testing.T) *Fixture {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Fixture{
		DB:         db,
		Attendance: sqlite.NewAttendanceRepository(db),
		Streaks:    sqlite.NewStreakRepository(db),
		Directory:  sqlite.NewDirectory(db),
	}
}

// SeedGym stores the gym and its members.
func (f *Fixture) SeedGym(t *testing.T, gymID, name string, members ...gym.Member) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.Directory.UpsertGym(ctx, gym.Gym{ID: gymID, Name: name}))
	for _, m := range members {
		m.GymID = gymID
		require.NoError(t, f.Directory.UpsertMember(ctx, m))
	}
}

func Athlete(id string) gym.Member {
	return gym.Member{ID: id, Name: "Athlete " + id, Email: id + "@example.com", Role: gym.RoleAthlete}
}

func Coach(id string) gym.Member {
	return gym.Member{ID: id, Name: "Coach " + id, Email: id + "@example.com", Role: gym.RoleCoach}
}

func Admin(id string) gym.Member {
	return gym.Member{ID: id, Name: "Admin " + id, Email: id + "@example.com", Role: gym.RoleAdmin}
}

// GenerateTestJWT mints an HS256 token for subject, valid for a day.
func GenerateTestJWT(subject string) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": "https://clerk.test",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"sid": "sess_test123",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(TestJWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// MockClerkWebhookPayload builds a Clerk user event whose public metadata
// assigns the user to gymID with role.
func MockClerkWebhookPayload(eventType, userID, gymID, role string) []byte {
	if eventType == "user.deleted" {
		return []byte(fmt.Sprintf(`{
			"data": {"id": "%s", "deleted": true},
			"object": "event",
			"type": "%s"
		}`, userID, eventType))
	}
	return []byte(fmt.Sprintf(`{
		"data": {
			"id": "%s",
			"first_name": "Test",
			"last_name": "User",
			"username": "testuser",
			"email_addresses": [{
				"id": "email_123",
				"email_address": "test.user@example.com",
				"verification": {"status": "verified"}
			}],
			"primary_email_address_id": "email_123",
			"public_metadata": {"gym_id": "%s", "gym_name": "Test Gym", "role": "%s"}
		},
		"object": "event",
		"type": "%s"
	}`, userID, gymID, role, eventType))
}

// SignWebhook returns the svix-signature header value for body.
func SignWebhook(secret, msgID string, ts time.Time, body []byte) string {
	key, err := base64.StdEncoding.DecodeString(secret[len("whsec_"):])
	if err != nil {
		panic(err)
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%d.%s", msgID, ts.Unix(), body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
