package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/tollgate-ai/tollgate/internal/apikey/domain"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix      = "tg_live_key_"
	apiKeySecretBytes = 32
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    apikeydomain.Repository
	Hasher  *apikeydomain.Hasher
	AppRepo appdomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    apikeydomain.Repository
	hasher  *apikeydomain.Hasher
	appRepo appdomain.Repository
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("apikey.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		hasher:  p.Hasher,
		appRepo: p.AppRepo,
	}
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	if req.UserID == 0 {
		return nil, apikeydomain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	appID, err := snowflake.ParseString(strings.TrimSpace(req.ApplicationID))
	if err != nil || appID == 0 {
		return nil, apikeydomain.ErrInvalidApplication
	}

	app, err := s.appRepo.FindByID(ctx, s.db, appID)
	if err != nil {
		return nil, err
	}
	if app == nil || app.Archived {
		return nil, apikeydomain.ErrInvalidApplication
	}

	now := time.Now().UTC()
	id := s.genID.Generate()
	keyID := newKeyID(id)
	plain, hash, err := s.generateAPIKey(keyID)
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:            id,
		UserID:        req.UserID,
		ApplicationID: appID,
		KeyID:         keyID,
		Name:          name,
		KeyHash:       hash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	return &apikeydomain.SecretResponse{KeyID: key.KeyID, APIKey: plain}, nil
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]apikeydomain.Response, error) {
	if userID == 0 {
		return nil, apikeydomain.ErrInvalidUser
	}

	items, err := s.repo.List(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Revoke(ctx context.Context, userID snowflake.ID, keyID string) error {
	if userID == 0 {
		return apikeydomain.ErrInvalidUser
	}
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, userID, trimmed)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}

	now := time.Now().UTC()
	key.Archived = true
	key.UpdatedAt = now
	if key.ExpiresAt == nil || key.ExpiresAt.After(now) {
		key.ExpiresAt = &now
	}
	return s.repo.Update(ctx, s.db, key)
}

// Authenticate resolves a raw bearer secret to its credential. The hash is
// deterministic, so the lookup is one indexed query; the stored hash is
// still compared in constant time.
func (s *Service) Authenticate(ctx context.Context, raw string) (*apikeydomain.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, apiKeyPrefix) {
		return nil, apikeydomain.ErrInvalidCredential
	}

	hash := s.hasher.Hash(raw)
	key, err := s.repo.FindByHash(ctx, s.db, hash)
	if err != nil {
		return nil, err
	}
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, apikeydomain.ErrInvalidCredential
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(time.Now().UTC()) {
		return nil, apikeydomain.ErrInvalidCredential
	}
	return key, nil
}

func (s *Service) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	if db == nil {
		db = s.db
	}
	return s.repo.StampLastUsed(ctx, db, id, at)
}

func (s *Service) generateAPIKey(keyID string) (string, string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	secretPart := hex.EncodeToString(secret)
	trimmed := strings.TrimPrefix(keyID, "key_")
	plain := fmt.Sprintf("%s%s_%s", apiKeyPrefix, trimmed, secretPart)
	return plain, s.hasher.Hash(plain), nil
}

func newKeyID(id snowflake.ID) string {
	return "key_" + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		KeyID:         key.KeyID,
		ApplicationID: key.ApplicationID.String(),
		Name:          key.Name,
		Archived:      key.Archived,
		CreatedAt:     key.CreatedAt,
		LastUsedAt:    key.LastUsedAt,
		ExpiresAt:     key.ExpiresAt,
	}
}
