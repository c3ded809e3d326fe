// Package memstore implements the record store in memory. It honors the same
// semantics as the PostgreSQL backend — tenant scoping, unique-value
// attribution, lease-gated queue mutations — and backs service tests and
// embedded single-process deployments.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db"
	"github.com/recordum/recordum/internal/recordsrv/db/dberror"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/reccommon"
	"github.com/recordum/recordum/pkg/types"
)

type entityKey struct {
	tenant types.TenantId
	name   string
}

type fieldKey struct {
	tenant types.TenantId
	entity string
	field  string
}

type docKey struct {
	tenant types.TenantId
	kind   models.DefinitionKind
	entity string
	name   string
}

type uniqueKey struct {
	tenant types.TenantId
	entity string
	field  string
	hash   string
}

type subjectKey struct {
	tenant  types.TenantId
	subject types.Subject
}

type bindingKey struct {
	tenant  types.TenantId
	subject types.Subject
	role    string
}

type grantKey struct {
	tenant     types.TenantId
	subject    types.Subject
	permission types.Permission
}

type fieldGrantKey struct {
	tenant  types.TenantId
	subject types.Subject
	entity  string
	field   string
}

// Store is an in-memory record store. One mutex guards everything; the store
// is small enough that finer locking buys nothing.
type Store struct {
	mu sync.RWMutex

	tenants         map[types.TenantId]models.Tenant
	entities        map[entityKey]models.EntityDefinition
	fields          map[fieldKey]models.FieldDefinition
	docs            map[docKey]models.DefinitionDoc
	versions        map[entityKey][]models.PublishedVersion
	publishedFields map[fieldKey]bool

	records map[uuid.UUID]models.RuntimeRecord
	unique  map[uniqueKey]uuid.UUID

	workflows  map[entityKey]models.WorkflowDefinition
	runs       map[uuid.UUID]models.WorkflowRun
	attempts   map[uuid.UUID][]models.WorkflowRunAttempt
	jobs       map[uuid.UUID]models.WorkflowJob
	heartbeats map[string]models.WorkerHeartbeat

	roles           map[entityKey]models.SecurityRole
	bindings        map[bindingKey]bool
	tempGrants      map[grantKey]models.TemporaryGrant
	fieldGrants     map[fieldGrantKey]models.FieldGrant
	ownershipScopes map[subjectKey]types.OwnershipScope

	audit []models.AuditEvent

	// Clock supplies the store's notion of now. Tests override it to expire
	// leases and grants without sleeping.
	Clock func() time.Time
}

var _ db.DB_ = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		tenants:         make(map[types.TenantId]models.Tenant),
		entities:        make(map[entityKey]models.EntityDefinition),
		fields:          make(map[fieldKey]models.FieldDefinition),
		docs:            make(map[docKey]models.DefinitionDoc),
		versions:        make(map[entityKey][]models.PublishedVersion),
		publishedFields: make(map[fieldKey]bool),
		records:         make(map[uuid.UUID]models.RuntimeRecord),
		unique:          make(map[uniqueKey]uuid.UUID),
		workflows:       make(map[entityKey]models.WorkflowDefinition),
		runs:            make(map[uuid.UUID]models.WorkflowRun),
		attempts:        make(map[uuid.UUID][]models.WorkflowRunAttempt),
		jobs:            make(map[uuid.UUID]models.WorkflowJob),
		heartbeats:      make(map[string]models.WorkerHeartbeat),
		roles:           make(map[entityKey]models.SecurityRole),
		bindings:        make(map[bindingKey]bool),
		tempGrants:      make(map[grantKey]models.TemporaryGrant),
		fieldGrants:     make(map[fieldGrantKey]models.FieldGrant),
		ownershipScopes: make(map[subjectKey]types.OwnershipScope),
		Clock:           time.Now,
	}
}

func (s *Store) now() time.Time {
	return s.Clock()
}

// Close is a no-op; the store has no connection to release.
func (s *Store) Close(ctx context.Context) {}

func tenantFromContext(ctx context.Context) (types.TenantId, apperrors.Error) {
	tenantID := reccommon.TenantIdFromContext(ctx)
	if tenantID == "" {
		return "", dberror.ErrMissingTenantID.Err(dberror.ErrInvalidInput)
	}
	return tenantID, nil
}

func (s *Store) CreateTenant(ctx context.Context, tenant *models.Tenant) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant.TenantID]; ok {
		return dberror.ErrAlreadyExists.Msg("tenant already exists")
	}
	tenant.CreatedAt = s.now()
	s.tenants[tenant.TenantID] = *tenant
	return nil
}

func (s *Store) GetTenant(ctx context.Context, tenantID types.TenantId) (*models.Tenant, apperrors.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("tenant not found")
	}
	return &tenant, nil
}

func (s *Store) DeleteTenant(ctx context.Context, tenantID types.TenantId) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenantID)
	return nil
}
