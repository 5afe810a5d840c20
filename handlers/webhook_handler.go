package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/types/clerk"
	"gymStreakAPI/internal/types/gym"
	"gymStreakAPI/services"
)

const webhookTolerance = 5 * time.Minute

// WebhookHandler keeps the member directory in sync with Clerk users. Gym
// and role come from the user's public metadata. Every roster change drops
// the cached views of the gyms it touches.
type WebhookHandler struct {
	directory persistence.Directory
	views     services.ViewCache
	secret    string
	clock     clock.Clock
	logger    *zap.Logger
}

// NewWebhookHandler verifies signatures only when secret is set.
func NewWebhookHandler(directory persistence.Directory, views services.ViewCache, secret string, clk clock.Clock, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		directory: directory,
		views:     views,
		secret:    secret,
		clock:     clk,
		logger:    logger,
	}
}

func (h *WebhookHandler) HandleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("reading webhook body", zap.Error(err))
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}

	if h.secret != "" {
		if err := h.verifySignature(r.Header, body); err != nil {
			h.logger.Warn("invalid webhook signature", zap.Error(err))
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var event clerk.ClerkWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("parsing webhook", zap.Error(err))
		http.Error(w, "Error parsing webhook", http.StatusBadRequest)
		return
	}

	h.logger.Info("received webhook event", zap.String("type", event.Type))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	switch event.Type {
	case "user.created", "user.updated":
		err = h.syncMember(ctx, event.Data)
	case "user.deleted":
		err = h.removeMember(ctx, event.Data)
	default:
		h.logger.Debug("unhandled webhook event type", zap.String("type", event.Type))
	}
	if err != nil {
		h.logger.Error("processing webhook",
			zap.String("type", event.Type),
			zap.Error(err),
		)
		http.Error(w, "Error processing webhook", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"success": true}`))
}

func (h *WebhookHandler) syncMember(ctx context.Context, data json.RawMessage) error {
	var user clerk.ClerkUserData
	if err := json.Unmarshal(data, &user); err != nil {
		return errors.Annotate(err, "unmarshalling user data")
	}

	meta := user.PublicMetadata
	if meta.GymID == "" {
		// not registered with a gym yet
		h.logger.Info("user without gym, not synced", zap.String("user_id", user.ID))
		return nil
	}
	role := gym.RoleAthlete
	if meta.Role != "" {
		parsed, err := gym.ParseRole(meta.Role)
		if err != nil {
			h.logger.Warn("ignoring user with unknown role",
				zap.String("user_id", user.ID),
				zap.String("role", meta.Role),
			)
			return nil
		}
		role = parsed
	}

	if err := h.ensureGym(ctx, meta.GymID, meta.GymName); err != nil {
		return err
	}

	previous, err := h.directory.FindMember(ctx, user.ID)
	if err != nil {
		return errors.Annotatef(err, "looking up member %s", user.ID)
	}

	member := gym.Member{
		ID:    user.ID,
		GymID: meta.GymID,
		Name:  user.DisplayName(),
		Email: user.PrimaryEmail(),
		Role:  role,
	}
	if err := h.directory.UpsertMember(ctx, member); err != nil {
		return errors.Annotatef(err, "upserting member %s", user.ID)
	}
	services.InvalidateGymViews(ctx, h.views, meta.GymID)
	if previous != nil && previous.GymID != meta.GymID {
		services.InvalidateGymViews(ctx, h.views, previous.GymID)
	}
	h.logger.Info("member synced",
		zap.String("user_id", user.ID),
		zap.String("gym_id", meta.GymID),
		zap.String("role", string(role)),
	)
	return nil
}

// ensureGym creates the gym on first sight. A known gym is renamed only when
// a name is supplied.
func (h *WebhookHandler) ensureGym(ctx context.Context, gymID, name string) error {
	if name == "" {
		existing, err := h.directory.FindGym(ctx, gymID)
		if err != nil {
			return errors.Trace(err)
		}
		if existing != nil {
			return nil
		}
		name = gymID
	}
	return errors.Annotatef(h.directory.UpsertGym(ctx, gym.Gym{ID: gymID, Name: name}), "upserting gym %s", gymID)
}

func (h *WebhookHandler) removeMember(ctx context.Context, data json.RawMessage) error {
	var deleted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &deleted); err != nil {
		return errors.Annotate(err, "unmarshalling deleted user")
	}

	existing, err := h.directory.FindMember(ctx, deleted.ID)
	if err != nil {
		return errors.Annotatef(err, "looking up member %s", deleted.ID)
	}
	if existing == nil {
		return nil
	}

	err = h.directory.DeleteMember(ctx, deleted.ID)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return err
	}
	services.InvalidateGymViews(ctx, h.views, existing.GymID)
	h.logger.Info("member removed", zap.String("user_id", deleted.ID), zap.String("gym_id", existing.GymID))
	return nil
}

// verifySignature checks the svix headers Clerk sends: an HMAC-SHA256 over
// "id.timestamp.body" keyed by the base64 part of the whsec_ secret.
func (h *WebhookHandler) verifySignature(header http.Header, body []byte) error {
	msgID := header.Get("svix-id")
	rawTS := header.Get("svix-timestamp")
	signatures := header.Get("svix-signature")
	if msgID == "" || rawTS == "" || signatures == "" {
		return errors.NotValidf("missing svix headers")
	}

	unix, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return errors.NotValidf("svix timestamp %q", rawTS)
	}
	sent := time.Unix(unix, 0)
	now := h.clock.Now()
	if now.Sub(sent) > webhookTolerance || sent.Sub(now) > webhookTolerance {
		return errors.NotValidf("svix timestamp outside tolerance")
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(h.secret, "whsec_"))
	if err != nil {
		return errors.Annotate(err, "decoding webhook secret")
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.%s", msgID, rawTS, body)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Fields(signatures) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return errors.NotValidf("svix signature")
}
