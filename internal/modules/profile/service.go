// README: Profile service; walker availability, last known position and wallet views.
package profile

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"wander/internal/apperr"
	"wander/internal/types"
)

var (
	ErrNotFound   = apperr.New(apperr.KindNotFound, "profile not found")
	ErrNotWalker  = apperr.New(apperr.KindForbidden, "only walkers can change availability")
	ErrBadRequest = apperr.New(apperr.KindValidation, "invalid profile data")

	ErrAlreadyVerified = apperr.New(apperr.KindConflict, "profile is already verified")
)

type Repository interface {
	Get(ctx context.Context, userID types.ID) (*Profile, error)
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
	SetAvailability(ctx context.Context, userID types.ID, available bool, at time.Time) (bool, error)
	SetLocation(ctx context.Context, userID types.ID, p types.Point, at time.Time) (bool, error)
	SetDeviceToken(ctx context.Context, userID types.ID, token string, at time.Time) (bool, error)
	SetRating(ctx context.Context, userID types.ID, avg float64, count int, at time.Time) error
	SubmitVerification(ctx context.Context, userID types.ID, v Verification) (bool, error)
}

// GeoIndex keeps the searchable positions of available walkers.
type GeoIndex interface {
	UpsertWalker(ctx context.Context, walkerID types.ID, p types.Point) error
	RemoveWalker(ctx context.Context, walkerID types.ID) error
}

type Service struct {
	store    Repository
	geo      GeoIndex
	currency string
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Repository, geo GeoIndex, currency string, log logrus.FieldLogger) *Service {
	return &Service{store: store, geo: geo, currency: currency, log: log, now: time.Now}
}

type SetupCommand struct {
	UserID    types.ID
	Role      types.Role
	Name      string
	Phone     string
	Bio       string
	Languages []string
}

func (s *Service) Get(ctx context.Context, userID types.ID) (*Profile, error) {
	return s.store.Get(ctx, userID)
}

func (s *Service) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Profile, error) {
	if len(ids) == 0 {
		return map[types.ID]*Profile{}, nil
	}
	return s.store.GetMany(ctx, ids)
}

func (s *Service) Setup(ctx context.Context, cmd SetupCommand) (*Profile, error) {
	if cmd.UserID == "" || !cmd.Role.Valid() || cmd.Name == "" {
		return nil, ErrBadRequest
	}
	if utf8.RuneCountInString(cmd.Bio) > 500 {
		return nil, apperr.New(apperr.KindValidation, "bio exceeds 500 characters")
	}
	languages := cmd.Languages
	if languages == nil {
		languages = []string{}
	}
	now := s.now().UTC()
	p := &Profile{
		UserID:        cmd.UserID,
		Name:          cmd.Name,
		Role:          cmd.Role,
		Phone:         cmd.Phone,
		Bio:           cmd.Bio,
		Languages:     languages,
		WalletBalance: types.Money{Currency: s.currency},
		Verification:  Verification{Status: VerificationNone},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, cmd.UserID)
}

// SetAvailability toggles whether a walker can be matched. A position sent
// along with the toggle is recorded first.
func (s *Service) SetAvailability(ctx context.Context, walkerID types.ID, available bool, at *types.Point) (*Profile, error) {
	if at != nil {
		if !at.Valid() {
			return nil, ErrBadRequest
		}
		if _, err := s.store.SetLocation(ctx, walkerID, *at, s.now().UTC()); err != nil {
			return nil, err
		}
	}
	ok, err := s.store.SetAvailability(ctx, walkerID, available, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.store.Get(ctx, walkerID); err != nil {
			return nil, err
		}
		return nil, ErrNotWalker
	}
	p, err := s.store.Get(ctx, walkerID)
	if err != nil {
		return nil, err
	}
	s.syncGeo(ctx, p)
	return p, nil
}

func (s *Service) UpdateLocation(ctx context.Context, userID types.ID, at types.Point) error {
	if !at.Valid() {
		return ErrBadRequest
	}
	ok, err := s.store.SetLocation(ctx, userID, at, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	s.syncGeo(ctx, p)
	return nil
}

func (s *Service) SetDeviceToken(ctx context.Context, userID types.ID, token string) error {
	if token == "" {
		return ErrBadRequest
	}
	ok, err := s.store.SetDeviceToken(ctx, userID, token, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

var documentTypes = map[string]bool{
	"AADHAAR":         true,
	"PAN":             true,
	"PASSPORT":        true,
	"DRIVING_LICENSE": true,
	"VOTER_ID":        true,
}

type VerificationCommand struct {
	UserID         types.ID
	DocumentType   string
	DocumentNumber string
	DocumentImage  string
}

// SubmitVerification stores identity documents and puts the profile in
// PENDING until an operator reviews it. A rejected or pending submission may
// be replaced; a verified one may not.
func (s *Service) SubmitVerification(ctx context.Context, cmd VerificationCommand) (*Verification, error) {
	docType := strings.ToUpper(strings.TrimSpace(cmd.DocumentType))
	number := strings.TrimSpace(cmd.DocumentNumber)
	image := strings.TrimSpace(cmd.DocumentImage)
	if cmd.UserID == "" || docType == "" || number == "" || image == "" {
		return nil, apperr.New(apperr.KindValidation, "documentType, documentNumber and documentImage are required")
	}
	if !documentTypes[docType] {
		return nil, apperr.New(apperr.KindValidation, "unsupported document type")
	}
	if len(number) > 32 || len(image) > 2048 {
		return nil, apperr.New(apperr.KindValidation, "document details too long")
	}

	now := s.now().UTC()
	v := Verification{
		Status:         VerificationPending,
		DocumentType:   docType,
		DocumentNumber: number,
		DocumentImage:  image,
		SubmittedAt:    &now,
	}
	ok, err := s.store.SubmitVerification(ctx, cmd.UserID, v)
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := s.store.Get(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if cur.Verification.Status == VerificationVerified {
			return nil, ErrAlreadyVerified
		}
		return nil, ErrNotFound
	}
	s.log.WithFields(logrus.Fields{"user_id": cmd.UserID, "document_type": docType}).Info("verification submitted")
	return &v, nil
}

func (s *Service) Wallet(ctx context.Context, userID types.ID) (*Wallet, error) {
	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Wallet{Balance: p.WalletBalance, TotalEarnings: p.TotalEarnings, TotalWalks: p.TotalWalks}, nil
}

// RoleOf returns the role recorded on the user's profile.
func (s *Service) RoleOf(ctx context.Context, userID types.ID) (types.Role, error) {
	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

func (s *Service) SetRating(ctx context.Context, userID types.ID, avg float64, count int) error {
	return s.store.SetRating(ctx, userID, avg, count, s.now().UTC())
}

// Available reports whether the user is a walker currently open for walks.
func (s *Service) Available(ctx context.Context, walkerID types.ID) (bool, error) {
	p, err := s.store.Get(ctx, walkerID)
	if err != nil {
		return false, err
	}
	return p.Role == types.RoleWalker && p.IsAvailable, nil
}

func (s *Service) MarkBusy(ctx context.Context, walkerID types.ID) error {
	_, err := s.SetAvailability(ctx, walkerID, false, nil)
	return err
}

func (s *Service) Release(ctx context.Context, walkerID types.ID) error {
	_, err := s.SetAvailability(ctx, walkerID, true, nil)
	return err
}

func (s *Service) syncGeo(ctx context.Context, p *Profile) {
	if s.geo == nil || p.Role != types.RoleWalker {
		return
	}
	var err error
	if p.IsAvailable && p.Location != nil {
		err = s.geo.UpsertWalker(ctx, p.UserID, *p.Location)
	} else {
		err = s.geo.RemoveWalker(ctx, p.UserID)
	}
	if err != nil {
		s.log.WithError(err).WithField("walker_id", p.UserID).Warn("sync walker geo index failed")
	}
}
