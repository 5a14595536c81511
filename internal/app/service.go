package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"papertrail/internal/access"
	"papertrail/internal/audit"
	"papertrail/internal/auth"
	"papertrail/internal/authpw"
	"papertrail/internal/blob"
	"papertrail/internal/config"
	"papertrail/internal/lock"
	"papertrail/internal/logger"
	"papertrail/internal/session"
	"papertrail/internal/store"
	"papertrail/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	ResolveUserIDs(ctx context.Context, candidateIDs []string) ([]string, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListDocumentsForUser(ctx context.Context, userID string) ([]store.Document, error)
	SetDocumentContent(ctx context.Context, documentID, contentRef string) error
	TouchDocument(ctx context.Context, documentID string) error
	DeleteDocument(ctx context.Context, documentID string) error
	IsCollaborator(ctx context.Context, documentID, userID string) (bool, error)
	GrantCollaborators(ctx context.Context, documentID string, userIDs []string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// Service is the document lifecycle manager. Every operation resolves the
// caller's role first; only then does it mutate anything, so a policy denial
// is always side-effect free.
type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	blobs    blob.Store
	audit    *audit.Recorder
	locks    lock.Locker
	authpw   *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, blobs blob.Store, locker lock.Locker) *Service {
	return newService(cfg, dataStore, dataStore, blobs, locker)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, blobs blob.Store, locker lock.Locker) *Service {
	return newService(cfg, dataStore, sessions, blobs, locker)
}

func newService(cfg config.Config, dataStore dataStore, sessions refreshStore, blobs blob.Store, locker lock.Locker) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		blobs:    blobs,
		audit:    audit.NewRecorder(blobs),
		locks:    locker,
		authpw:   authpw.NewService(dataStore),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Sessions ---

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, session.ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
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
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
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
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- Documents ---

func documentPayload(doc store.Document) map[string]any {
	payload := map[string]any{
		"id":       doc.ID,
		"owner":    doc.OwnerID,
		"file_url": nil,
	}
	if doc.ContentRef != nil {
		payload["file_url"] = blob.URL(blob.Handle(*doc.ContentRef))
	}
	return payload
}

func contentHandle(doc store.Document) blob.Handle {
	if doc.ContentRef == nil {
		return ""
	}
	return blob.Handle(*doc.ContentRef)
}

// documentForCaller loads the document and enforces the permission table.
// A caller without the needed role gets sql.ErrNoRows, the same outcome as
// a document that does not exist, so denied probes cannot confirm
// existence.
func (s *Service) documentForCaller(ctx context.Context, documentID, callerID string, action access.Action) (store.Document, access.Role, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, access.RoleNone, err
	}

	isCollaborator := false
	if callerID != doc.OwnerID {
		isCollaborator, err = s.store.IsCollaborator(ctx, documentID, callerID)
		if err != nil {
			return store.Document{}, access.RoleNone, err
		}
	}

	role := access.RoleOf(callerID, doc.OwnerID, isCollaborator)
	if !access.Visible(role) || !access.Can(role, action) {
		return store.Document{}, access.RoleNone, sql.ErrNoRows
	}
	return doc, role, nil
}

// CreateDocument makes the caller the owner, materializes the content blob,
// and writes the opening audit line. The row commit is authoritative: a
// blob-store fault afterwards leaves the document without content (file_url
// null) rather than failing the create.
func (s *Service) CreateDocument(ctx context.Context, callerID string) (map[string]any, error) {
	doc := store.Document{
		ID:      util.NewShortID(),
		OwnerID: callerID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	handle, err := s.blobs.Create(ctx, doc.ID)
	if err != nil {
		logger.Sugar.Errorw("content materialization failed",
			"document", doc.ID,
			"error", err,
		)
		return documentPayload(doc), nil
	}

	ref := string(handle)
	if err := s.store.SetDocumentContent(ctx, doc.ID, ref); err != nil {
		return nil, err
	}
	doc.ContentRef = &ref

	s.audit.Record(ctx, handle, access.RoleOwner, audit.OpUpload)
	return documentPayload(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, callerID string) ([]map[string]any, error) {
	documents, err := s.store.ListDocumentsForUser(ctx, callerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentPayload(doc))
	}
	return items, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID, callerID string) (map[string]any, error) {
	doc, _, err := s.documentForCaller(ctx, documentID, callerID, access.ActionView)
	if err != nil {
		return nil, err
	}
	return documentPayload(doc), nil
}

// EditDocument is the partial edit: it never touches content bytes, only
// the audit trail and updated_at.
func (s *Service) EditDocument(ctx context.Context, documentID, callerID string) (map[string]any, error) {
	doc, role, err := s.documentForCaller(ctx, documentID, callerID, access.ActionEdit)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchDocument(ctx, documentID); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, contentHandle(doc), role, audit.OpEdit)
	return documentPayload(doc), nil
}

// ReuploadDocument clears the document's content. The truncate runs inside
// the document-keyed critical section; two concurrent re-uploads of the same
// document strictly serialize while other documents stay unaffected.
func (s *Service) ReuploadDocument(ctx context.Context, documentID, callerID string) (map[string]any, error) {
	doc, role, err := s.documentForCaller(ctx, documentID, callerID, access.ActionReupload)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, doc.ID, s.cfg.LockWait)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, conflictError("document is being updated, retry shortly")
	}
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock: the document may have been deleted between
	// the role check and acquisition, and its blob must not be recreated.
	doc, err = s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	handle := contentHandle(doc)
	if handle == "" {
		// Re-upload on a never-materialized document materializes it.
		handle, err = s.blobs.Create(ctx, doc.ID)
		if errors.Is(err, blob.ErrAlreadyExists) {
			handle = blob.HandleFor(doc.ID)
		} else if err != nil {
			return nil, err
		}
		ref := string(handle)
		if err := s.store.SetDocumentContent(ctx, doc.ID, ref); err != nil {
			return nil, err
		}
		doc.ContentRef = &ref
	} else {
		// Truncate the document's own handle, never a shared path.
		if err := s.blobs.Truncate(ctx, handle); err != nil {
			return nil, fmt.Errorf("truncate content: %w", err)
		}
	}

	if err := s.store.TouchDocument(ctx, documentID); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, handle, role, audit.OpUpload)
	return documentPayload(doc), nil
}

func (s *Service) DownloadDocument(ctx context.Context, documentID, callerID string) (map[string]any, error) {
	doc, role, err := s.documentForCaller(ctx, documentID, callerID, access.ActionDownload)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, contentHandle(doc), role, audit.OpDownload)
	return documentPayload(doc), nil
}

// DeleteDocument removes the row (grants cascade with it). Removing the
// content blob is best-effort: a storage fault is logged, not surfaced.
func (s *Service) DeleteDocument(ctx context.Context, documentID, callerID string) error {
	doc, _, err := s.documentForCaller(ctx, documentID, callerID, access.ActionDelete)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if handle := contentHandle(doc); handle != "" {
		if err := s.blobs.Remove(ctx, handle); err != nil {
			logger.Sugar.Warnw("content blob removal failed",
				"document", doc.ID,
				"error", err,
			)
		}
	}
	return nil
}

// ShareDocument grants the resolvable candidate ids collaborator access.
// Unknown ids are dropped silently; ids already granted are skipped, so the
// call is idempotent.
func (s *Service) ShareDocument(ctx context.Context, documentID, callerID string, candidateIDs []string) (map[string]any, error) {
	if len(candidateIDs) == 0 {
		return nil, validationError("id_list must not be empty")
	}
	for _, id := range candidateIDs {
		if id == "" {
			return nil, validationError("id_list entries must be non-empty strings")
		}
	}

	doc, _, err := s.documentForCaller(ctx, documentID, callerID, access.ActionShare)
	if err != nil {
		return nil, err
	}

	resolved, err := s.store.ResolveUserIDs(ctx, candidateIDs)
	if err != nil {
		return nil, err
	}
	if err := s.store.GrantCollaborators(ctx, doc.ID, resolved); err != nil {
		return nil, err
	}
	return documentPayload(doc), nil
}

// ReadContent serves the raw content blob under the same visibility rule as
// retrieve.
func (s *Service) ReadContent(ctx context.Context, documentID, callerID string) (string, error) {
	doc, _, err := s.documentForCaller(ctx, documentID, callerID, access.ActionView)
	if err != nil {
		return "", err
	}
	handle := contentHandle(doc)
	if handle == "" {
		return "", sql.ErrNoRows
	}
	contents, err := s.blobs.Read(ctx, handle)
	if errors.Is(err, blob.ErrNotFound) {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", err
	}
	return contents, nil
}
