package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"notecrm/api/internal/auth"
	"notecrm/api/internal/config"
	"notecrm/api/internal/jobs"
	"notecrm/api/internal/push"
	"notecrm/api/internal/rbac"
	"notecrm/api/internal/search"
	"notecrm/api/internal/store"
	"notecrm/api/internal/titlegen"
	"notecrm/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type CreateNoteInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type dataStore interface {
	Ping(context.Context) error
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertNote(context.Context, store.Note) (store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	ListNotesByOwner(context.Context, string, int) ([]store.Note, error)
	UpdateNoteTitle(context.Context, string, string) (store.Note, error)
}

// sessionStore is satisfied by both the Postgres store and the Redis store.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(context.Context) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexNote(search.NoteRecord)
	ReindexAllFromPG(context.Context)
}

// TitleScheduler accepts background title jobs. Schedule must not block.
type TitleScheduler interface {
	Schedule(jobs.TitleJob)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	search    searchIndex
	scheduler TitleScheduler
	logger    zerolog.Logger
}

// New wires the service. sessions and searchSvc are optional: refresh
// sessions fall back to Postgres and search is disabled without an index.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		logger:   logger,
	}
	if sessions == nil {
		s.sessions = dataStore
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	return s
}

// SetTitleScheduler enables background title generation. The runner needs
// the service as its persister, so it is attached after construction.
func (s *Service) SetTitleScheduler(scheduler TitleScheduler) {
	s.scheduler = scheduler
}

func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	if s.search != nil {
		go s.search.ReindexAllFromPG(context.WithoutCancel(ctx))
	}
	return nil
}

func (s *Service) titleGenerationEnabled() bool {
	return s.scheduler != nil && s.cfg.TitleGenerationActive()
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis store only knows the user id.
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn().Err(err).Str("user_id", session.UserID).Msg("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn().Err(err).Str("user_id", session.UserID).Msg("revoke refresh session")
		}
	}
	return nil
}

// Authenticate resolves the subscriber of a push upgrade request. Browsers
// cannot set headers on a websocket handshake, so the access token may also
// arrive as the access_token query parameter.
func (s *Service) Authenticate(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		return "", push.ErrUnauthenticated
	}
	session, err := s.SessionFromToken(r.Context(), token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", push.ErrUnauthenticated, err)
	}
	if !s.Can(session.Role, rbac.ActionSubscribe) {
		return "", push.ErrUnauthenticated
	}
	return session.UserID, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateNote stores a note and, when the caller gave no title, schedules a
// background job to generate one. It never waits for that job.
func (s *Service) CreateNote(ctx context.Context, session Session, input CreateNoteInput) (store.Note, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return store.Note{}, forbidden()
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return store.Note{}, validationError("content is required", map[string]any{"field": "content"})
	}

	note := store.Note{
		ID:          util.NewID("note"),
		OwnerID:     session.UserID,
		Title:       strings.TrimSpace(input.Title),
		TitleSource: store.TitleExplicit,
		Content:     content,
	}
	explicit := note.Title != ""
	if !explicit {
		note.Title = titlegen.FallbackTitle(content)
		note.TitleSource = store.TitleFallback
	}

	created, err := s.store.InsertNote(ctx, note)
	if err != nil {
		return store.Note{}, err
	}
	s.index(created)

	if !explicit && s.titleGenerationEnabled() {
		s.scheduler.Schedule(jobs.TitleJob{
			NoteID:  created.ID,
			Content: created.Content,
			UserID:  created.OwnerID,
		})
	}
	return created, nil
}

// PersistTitle stores a generated title for noteID.
func (s *Service) PersistTitle(ctx context.Context, noteID, title string) error {
	updated, err := s.store.UpdateNoteTitle(ctx, noteID, title)
	if err != nil {
		return err
	}
	s.index(updated)
	return nil
}

func (s *Service) ListNotes(ctx context.Context, session Session, limit int) ([]store.Note, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, forbidden()
	}
	return s.store.ListNotesByOwner(ctx, session.UserID, limit)
}

// GetNote hides other users' notes behind a 404.
func (s *Service) GetNote(ctx context.Context, session Session, noteID string) (store.Note, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Note{}, forbidden()
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return store.Note{}, err
	}
	if note.OwnerID != session.UserID {
		return store.Note{}, notFound("note")
	}
	return note, nil
}

func (s *Service) SearchNotes(ctx context.Context, session Session, text string, limit, offset int) (search.Response, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return search.Response{}, forbidden()
	}
	text = strings.TrimSpace(text)
	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:    text,
		OwnerID: session.UserID,
		Limit:   limit,
		Offset:  offset,
	}), nil
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) index(note store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:          note.ID,
		OwnerID:     note.OwnerID,
		Title:       note.Title,
		Content:     note.Content,
		TitleSource: string(note.TitleSource),
	})
}
