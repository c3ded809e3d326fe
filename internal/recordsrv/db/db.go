// Package db defines the storage interface of the record platform and the
// context-bound accessor through which every component reaches it. The
// production implementation lives in db/postgresql; db/memstore provides the
// same interface in memory for tests and embedded use.
package db

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/recordum/recordum/internal/common/apperrors"
	"github.com/recordum/recordum/internal/common/uuid"
	"github.com/recordum/recordum/internal/recordsrv/db/dbmanager"
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/internal/recordsrv/db/postgresql"
	"github.com/recordum/recordum/internal/recordsrv/query"
	"github.com/recordum/recordum/pkg/types"
)

// MetadataManager persists entity, field, definition-document, and published
// schema state. All operations are scoped by the tenant in the context.
type MetadataManager interface {
	// Tenant
	CreateTenant(ctx context.Context, tenant *models.Tenant) apperrors.Error
	GetTenant(ctx context.Context, tenantID types.TenantId) (*models.Tenant, apperrors.Error)
	DeleteTenant(ctx context.Context, tenantID types.TenantId) apperrors.Error

	// Entity definitions
	CreateEntity(ctx context.Context, entity *models.EntityDefinition) apperrors.Error
	GetEntity(ctx context.Context, logicalName string) (*models.EntityDefinition, apperrors.Error)
	UpdateEntity(ctx context.Context, entity *models.EntityDefinition) apperrors.Error
	DeleteEntity(ctx context.Context, logicalName string) apperrors.Error
	ListEntities(ctx context.Context) ([]*models.EntityDefinition, apperrors.Error)

	// Field definitions
	CreateField(ctx context.Context, field *models.FieldDefinition) apperrors.Error
	GetField(ctx context.Context, entityName, logicalName string) (*models.FieldDefinition, apperrors.Error)
	UpdateField(ctx context.Context, field *models.FieldDefinition) apperrors.Error
	DeleteField(ctx context.Context, entityName, logicalName string) apperrors.Error
	ListFields(ctx context.Context, entityName string) ([]*models.FieldDefinition, apperrors.Error)

	// Option sets, forms, views, business rules
	UpsertDefinitionDoc(ctx context.Context, kind models.DefinitionKind, doc *models.DefinitionDoc) apperrors.Error
	GetDefinitionDoc(ctx context.Context, kind models.DefinitionKind, entityName, logicalName string) (*models.DefinitionDoc, apperrors.Error)
	DeleteDefinitionDoc(ctx context.Context, kind models.DefinitionKind, entityName, logicalName string) apperrors.Error
	ListDefinitionDocs(ctx context.Context, kind models.DefinitionKind, entityName string) ([]*models.DefinitionDoc, apperrors.Error)

	// Published schema versions
	//
	// CreatePublishedVersion assigns version = max(existing)+1, stores the
	// snapshot, and indexes the snapshot's field names, all in one
	// transaction; the assigned version is written back to the model.
	CreatePublishedVersion(ctx context.Context, version *models.PublishedVersion, fieldNames []string) apperrors.Error
	GetLatestPublishedVersion(ctx context.Context, entityName string) (*models.PublishedVersion, apperrors.Error)
	GetPublishedVersion(ctx context.Context, entityName string, version int) (*models.PublishedVersion, apperrors.Error)
	ListPublishedVersions(ctx context.Context, entityName string) ([]*models.PublishedVersion, apperrors.Error)
	// FieldInAnyPublishedVersion reports whether the field appears in any
	// published snapshot of the entity. It backs the schema-freeze and
	// field-delete guards.
	FieldInAnyPublishedVersion(ctx context.Context, entityName, fieldName string) (bool, apperrors.Error)
}

// RuntimeManager persists runtime records and their unique-value index, and
// executes validated query plans.
type RuntimeManager interface {
	// InsertRecord writes the record and its unique rows in one transaction.
	// A unique collision fails the whole write with a conflict naming the
	// field.
	InsertRecord(ctx context.Context, record *models.RuntimeRecord, unique []models.UniqueValue) apperrors.Error
	// UpdateRecord replaces data and rewrites the record's unique rows in one
	// transaction.
	UpdateRecord(ctx context.Context, record *models.RuntimeRecord, unique []models.UniqueValue) apperrors.Error
	DeleteRecord(ctx context.Context, entityName string, recordID uuid.UUID) apperrors.Error
	GetRecord(ctx context.Context, entityName string, recordID uuid.UUID) (*models.RuntimeRecord, apperrors.Error)
	ListRecords(ctx context.Context, entityName string, limit, offset int, ownerSubject types.Subject) ([]*models.RuntimeRecord, apperrors.Error)
	RecordExists(ctx context.Context, entityName string, recordID uuid.UUID) (bool, apperrors.Error)
	// HasRelationReference reports whether any record of referencingEntity
	// holds targetID in relationField.
	HasRelationReference(ctx context.Context, referencingEntity, relationField string, targetID uuid.UUID) (bool, apperrors.Error)
	QueryRecords(ctx context.Context, plan *query.Plan) ([]*models.RuntimeRecord, apperrors.Error)
}

// WorkflowManager persists workflow definitions, runs, attempts, and the
// leased execution queue. Queue claim and heartbeat operations are
// deliberately cross-tenant: workers drain all tenants subject to their
// partition.
type WorkflowManager interface {
	UpsertWorkflowDefinition(ctx context.Context, def *models.WorkflowDefinition) apperrors.Error
	GetWorkflowDefinition(ctx context.Context, logicalName string) (*models.WorkflowDefinition, apperrors.Error)
	DeleteWorkflowDefinition(ctx context.Context, logicalName string) apperrors.Error
	ListWorkflowDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, apperrors.Error)
	// ListWorkflowsForRecordCreated returns the enabled workflows of the
	// tenant triggered by record creation on the given entity.
	ListWorkflowsForRecordCreated(ctx context.Context, entityName string) ([]*models.WorkflowDefinition, apperrors.Error)

	CreateRun(ctx context.Context, run *models.WorkflowRun) apperrors.Error
	GetRun(ctx context.Context, runID uuid.UUID) (*models.WorkflowRun, apperrors.Error)
	UpdateRun(ctx context.Context, run *models.WorkflowRun) apperrors.Error
	AppendRunAttempt(ctx context.Context, attempt *models.WorkflowRunAttempt) apperrors.Error
	ListRunAttempts(ctx context.Context, runID uuid.UUID) ([]*models.WorkflowRunAttempt, apperrors.Error)
	// ListRuns returns the tenant's runs for one workflow, newest first.
	ListRuns(ctx context.Context, workflowName string, limit int) ([]*models.WorkflowRun, apperrors.Error)

	EnqueueJob(ctx context.Context, job *models.WorkflowJob) apperrors.Error
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.WorkflowJob, apperrors.Error)
	// ClaimJobs leases up to limit claimable jobs (pending, or leased with an
	// expired lease) to the worker, honoring the partition predicate. Claims
	// never block on other claimants.
	ClaimJobs(ctx context.Context, workerID string, limit int, leaseSeconds int, partition *models.QueuePartition) ([]*models.ClaimedJob, apperrors.Error)
	// CompleteJob and FailJob succeed only while the worker still holds the
	// lease token; a stolen lease yields a conflict.
	CompleteJob(ctx context.Context, jobID uuid.UUID, workerID string, leaseToken uuid.UUID) apperrors.Error
	FailJob(ctx context.Context, jobID uuid.UUID, workerID string, leaseToken uuid.UUID, errMsg string) apperrors.Error

	UpsertWorkerHeartbeat(ctx context.Context, hb *models.WorkerHeartbeat) apperrors.Error
	GetWorkerHeartbeat(ctx context.Context, workerID string) (*models.WorkerHeartbeat, apperrors.Error)
	QueueStats(ctx context.Context, activeWindowSeconds int, partition *models.QueuePartition) (*models.QueueStats, apperrors.Error)
}

// SecurityManager persists roles, bindings, grants, and ownership scopes.
type SecurityManager interface {
	UpsertRole(ctx context.Context, role *models.SecurityRole) apperrors.Error
	GetRole(ctx context.Context, name string) (*models.SecurityRole, apperrors.Error)
	DeleteRole(ctx context.Context, name string) apperrors.Error
	ListRoles(ctx context.Context) ([]*models.SecurityRole, apperrors.Error)

	BindRole(ctx context.Context, subject types.Subject, roleName string) apperrors.Error
	UnbindRole(ctx context.Context, subject types.Subject, roleName string) apperrors.Error
	// PermissionsForSubject resolves the union of the subject's role-bound
	// permissions.
	PermissionsForSubject(ctx context.Context, subject types.Subject) ([]types.Permission, apperrors.Error)

	GrantTemporary(ctx context.Context, grant *models.TemporaryGrant) apperrors.Error
	ListActiveTemporaryGrants(ctx context.Context, subject types.Subject) ([]*models.TemporaryGrant, apperrors.Error)

	UpsertFieldGrant(ctx context.Context, grant *models.FieldGrant) apperrors.Error
	ListFieldGrants(ctx context.Context, subject types.Subject, entityName string) ([]*models.FieldGrant, apperrors.Error)

	SetOwnershipScope(ctx context.Context, subject types.Subject, scope types.OwnershipScope) apperrors.Error
	// GetOwnershipScope returns All when no binding exists.
	GetOwnershipScope(ctx context.Context, subject types.Subject) (types.OwnershipScope, apperrors.Error)
}

// AuditManager appends and queries immutable audit events.
type AuditManager interface {
	AppendAuditEvent(ctx context.Context, event *models.AuditEvent) apperrors.Error
	ListAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, apperrors.Error)
	PurgeAuditEventsOlderThan(ctx context.Context, retentionDays int) (int64, apperrors.Error)
}

// ConnectionManager releases the store binding at the end of a request.
type ConnectionManager interface {
	Close(ctx context.Context)
}

// DB_ is the full storage interface.
type DB_ interface {
	MetadataManager
	RuntimeManager
	WorkflowManager
	SecurityManager
	AuditManager
	ConnectionManager
}

// Scope_TenantId is the session GUC carrying the current tenant for
// row-level security.
const Scope_TenantId string = "record.curr_tenantid"

var configuredScopes = []string{
	Scope_TenantId,
}

var pool dbmanager.ScopedDb

// Init opens the PostgreSQL pool. Call once at service startup; tests that
// bind a store with WithStore do not need it.
func Init(ctx context.Context) error {
	pg := dbmanager.NewScopedDb(ctx, "postgresql", configuredScopes)
	if pg == nil {
		return apperrors.New("unable to create db pool")
	}
	pool = pg
	return nil
}

type ctxDbKeyType string

const ctxDbKey ctxDbKeyType = "RecordDb"

// WithStore binds a store implementation to the context. The server binds a
// PostgreSQL-backed store per request; tests bind a memstore.
func WithStore(ctx context.Context, store DB_) context.Context {
	return context.WithValue(ctx, ctxDbKey, store)
}

// ConnCtx obtains a scoped connection from the pool and binds a
// PostgreSQL-backed store to the context. The caller must Close the returned
// store when done.
func ConnCtx(ctx context.Context) (context.Context, error) {
	if pool == nil {
		return ctx, apperrors.New("db pool is not initialized")
	}
	conn, err := pool.Conn(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to get db connection")
		return ctx, err
	}
	return WithStore(ctx, postgresql.NewRecordDb(conn)), nil
}

// DB returns the store bound to the context, or nil when none is bound.
func DB(ctx context.Context) DB_ {
	if store, ok := ctx.Value(ctxDbKey).(DB_); ok {
		return store
	}
	log.Ctx(ctx).Error().Msg("no store bound to context")
	return nil
}
