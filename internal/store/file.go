// internal/store/file.go
package store

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	stderrors "quotagate/internal/common/errors"
	"quotagate/internal/common/logger"
)

// fileRecord is the JSON shape of one ledger row in the flat-file backend.
// Timestamps travel as RFC3339 strings so the document stays readable.
type fileRecord struct {
	UserID                  int64  `json:"user_id"`
	Plan                    string `json:"plan"`
	PlanStart               string `json:"plan_start,omitempty"`
	PlanEnd                 string `json:"plan_end,omitempty"`
	TokensUsed              int    `json:"tokens_used"`
	TokensRemaining         int    `json:"tokens_remaining"`
	ChatRequests            int    `json:"chat_requests_count"`
	VisionRequests          int    `json:"vision_requests_count"`
	PurchasedVisionRequests int    `json:"purchased_vision_requests"`
	AdminUnlimited          bool   `json:"admin_unlimited"`
	FullName                string `json:"full_name,omitempty"`
	ProfileLink             string `json:"profile_link,omitempty"`
	Phone                   string `json:"phone_number,omitempty"`
	LastActivity            string `json:"last_activity"`
	CreatedAt               string `json:"created_at"`
}

// FileStore persists the whole ledger as a single JSON document keyed by
// stringified user id. Every write re-serializes the full document; the only
// concurrent-writer protection is process-level serialization plus a mutex.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger logger.Logger
}

func NewFileStore(path string, log logger.Logger) *FileStore {
	s := &FileStore{path: path, logger: log}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(map[string]fileRecord{}); err != nil {
			log.Error("failed to initialize users file", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
		} else {
			log.Info("users file created", map[string]interface{}{"path": path})
		}
	}
	return s
}

func (s *FileStore) load() (map[string]fileRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]fileRecord{}, nil
		}
		return nil, err
	}

	users := map[string]fileRecord{}
	if err := json.Unmarshal(data, &users); err != nil {
		// A corrupt document is unrecoverable; start from an empty ledger
		// rather than refuse every request.
		s.logger.Error("users file is corrupt, starting empty", map[string]interface{}{
			"path": s.path, "error": err.Error(),
		})
		return map[string]fileRecord{}, nil
	}
	return users, nil
}

func (s *FileStore) save(users map[string]fileRecord) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

func parseFileTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func formatFileTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func (fr fileRecord) toRecord() *UserRecord {
	rec := &UserRecord{
		UserID:                  fr.UserID,
		Plan:                    fr.Plan,
		PlanStart:               parseFileTime(fr.PlanStart),
		PlanEnd:                 parseFileTime(fr.PlanEnd),
		TokensUsed:              fr.TokensUsed,
		TokensRemaining:         fr.TokensRemaining,
		ChatRequests:            fr.ChatRequests,
		VisionRequests:          fr.VisionRequests,
		PurchasedVisionRequests: fr.PurchasedVisionRequests,
		AdminUnlimited:          fr.AdminUnlimited,
		FullName:                fr.FullName,
		ProfileLink:             fr.ProfileLink,
		Phone:                   fr.Phone,
	}
	if rec.Plan == "" {
		rec.Plan = PlanFree
	}
	if t := parseFileTime(fr.LastActivity); t != nil {
		rec.LastActivity = *t
	}
	if t := parseFileTime(fr.CreatedAt); t != nil {
		rec.CreatedAt = *t
	}
	return rec
}

func toFileRecord(rec *UserRecord) fileRecord {
	return fileRecord{
		UserID:                  rec.UserID,
		Plan:                    rec.Plan,
		PlanStart:               formatFileTime(rec.PlanStart),
		PlanEnd:                 formatFileTime(rec.PlanEnd),
		TokensUsed:              rec.TokensUsed,
		TokensRemaining:         rec.TokensRemaining,
		ChatRequests:            rec.ChatRequests,
		VisionRequests:          rec.VisionRequests,
		PurchasedVisionRequests: rec.PurchasedVisionRequests,
		AdminUnlimited:          rec.AdminUnlimited,
		FullName:                rec.FullName,
		ProfileLink:             rec.ProfileLink,
		Phone:                   rec.Phone,
		LastActivity:            rec.LastActivity.Format(time.RFC3339),
		CreatedAt:               rec.CreatedAt.Format(time.RFC3339),
	}
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (s *FileStore) GetUser(ctx context.Context, userID int64) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, stderrors.NewStorageUnavailableError(err)
	}

	fr, ok := users[key(userID)]
	if !ok {
		return nil, nil
	}
	return fr.toRecord(), nil
}

func (s *FileStore) CreateUser(ctx context.Context, userID int64) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, stderrors.NewStorageUnavailableError(err)
	}

	if fr, ok := users[key(userID)]; ok {
		return fr.toRecord(), nil
	}

	rec := NewUserRecord(userID, time.Now())
	users[key(userID)] = toFileRecord(rec)
	if err := s.save(users); err != nil {
		return nil, stderrors.NewStorageUnavailableError(err)
	}

	s.logger.Info("user record created", map[string]interface{}{"userId": userID})
	return rec, nil
}

// mutate loads, applies fn to the existing record, bumps last_activity and
// rewrites the full document.
func (s *FileStore) mutate(userID int64, fn func(*UserRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return stderrors.NewStorageUnavailableError(err)
	}

	fr, ok := users[key(userID)]
	if !ok {
		return stderrors.NewStorageUnavailableError(os.ErrNotExist)
	}

	rec := fr.toRecord()
	fn(rec)
	rec.LastActivity = time.Now()
	users[key(userID)] = toFileRecord(rec)

	if err := s.save(users); err != nil {
		return stderrors.NewStorageUnavailableError(err)
	}
	return nil
}

func (s *FileStore) UpdateUser(ctx context.Context, userID int64, upd UserUpdate) error {
	if upd.IsEmpty() {
		return nil
	}
	return s.mutate(userID, func(rec *UserRecord) {
		if upd.Plan != nil {
			rec.Plan = *upd.Plan
		}
		if upd.ClearPlanDates {
			rec.PlanStart = nil
			rec.PlanEnd = nil
		} else {
			if upd.PlanStart != nil {
				rec.PlanStart = upd.PlanStart
			}
			if upd.PlanEnd != nil {
				rec.PlanEnd = upd.PlanEnd
			}
		}
		if upd.TokensUsed != nil {
			rec.TokensUsed = *upd.TokensUsed
		}
		if upd.TokensRemaining != nil {
			rec.TokensRemaining = *upd.TokensRemaining
		}
		if upd.ChatRequests != nil {
			rec.ChatRequests = *upd.ChatRequests
		}
		if upd.VisionRequests != nil {
			rec.VisionRequests = *upd.VisionRequests
		}
		if upd.PurchasedVisionRequests != nil {
			rec.PurchasedVisionRequests = *upd.PurchasedVisionRequests
		}
		if upd.AdminUnlimited != nil {
			rec.AdminUnlimited = *upd.AdminUnlimited
		}
		if upd.FullName != nil {
			rec.FullName = *upd.FullName
		}
		if upd.ProfileLink != nil {
			rec.ProfileLink = *upd.ProfileLink
		}
		if upd.Phone != nil {
			rec.Phone = *upd.Phone
		}
	})
}

// Plans on the file backend always serves the built-in catalog.
func (s *FileStore) Plans(ctx context.Context) (map[string]Plan, error) {
	return FallbackPlans(), nil
}

func (s *FileStore) AddPurchasedTokens(ctx context.Context, userID int64, amount int) error {
	return s.mutate(userID, func(rec *UserRecord) {
		rec.TokensRemaining += amount
	})
}

func (s *FileStore) AddPurchasedVisionRequests(ctx context.Context, userID int64, amount int) error {
	return s.mutate(userID, func(rec *UserRecord) {
		rec.PurchasedVisionRequests += amount
	})
}

func (s *FileStore) UpdateProfile(ctx context.Context, userID int64, fullName, profileLink, phone string) error {
	var upd UserUpdate
	if fullName != "" {
		upd.FullName = strPtr(fullName)
	}
	if profileLink != "" {
		upd.ProfileLink = strPtr(profileLink)
	}
	if phone != "" {
		upd.Phone = strPtr(phone)
	}
	if upd.IsEmpty() {
		return nil
	}
	return s.UpdateUser(ctx, userID, upd)
}

func (s *FileStore) Backend() Backend {
	return BackendFile
}

func (s *FileStore) Close() error {
	return nil
}
