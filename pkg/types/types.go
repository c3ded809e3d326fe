// Package types holds the identity, metadata, and value types shared by the
// record platform core and its callers.
package types

// TenantId identifies the isolation boundary that owns all entities, records,
// and workflows. No core operation crosses tenant boundaries.
type TenantId string

// Subject is the opaque identity of the caller within a tenant.
type Subject string

// IsNil reports whether the tenant id is unset.
func (t TenantId) IsNil() bool {
	return t == ""
}

func (t TenantId) String() string {
	return string(t)
}

func (s Subject) String() string {
	return string(s)
}

// SystemSubject is the synthetic identity used for engine-internal operations
// such as workflow-triggered record writes.
const SystemSubject Subject = "workflow-runtime"

// ReservedFieldID is the one payload key that is always valid without a field
// definition backing it.
const ReservedFieldID = "id"

// FieldType enumerates the closed set of field types an entity may declare.
type FieldType string

const (
	FieldTypeText       FieldType = "Text"
	FieldTypeNumber     FieldType = "Number"
	FieldTypeBoolean    FieldType = "Boolean"
	FieldTypeDate       FieldType = "Date"
	FieldTypeJson       FieldType = "Json"
	FieldTypeRelation   FieldType = "Relation"
	FieldTypeOptionSet  FieldType = "OptionSet"
	FieldTypeCalculated FieldType = "Calculated"
)

// ValidFieldTypes lists every declarable field type.
var ValidFieldTypes = []FieldType{
	FieldTypeText,
	FieldTypeNumber,
	FieldTypeBoolean,
	FieldTypeDate,
	FieldTypeJson,
	FieldTypeRelation,
	FieldTypeOptionSet,
	FieldTypeCalculated,
}

// IsValid reports whether the field type is one of the declarable types.
func (f FieldType) IsValid() bool {
	for _, t := range ValidFieldTypes {
		if t == f {
			return true
		}
	}
	return false
}

// FormType enumerates the presentation surfaces a form may serve.
type FormType string

const (
	FormTypeMain        FormType = "Main"
	FormTypeQuickCreate FormType = "QuickCreate"
	FormTypeQuickView   FormType = "QuickView"
)

func (f FormType) IsValid() bool {
	switch f {
	case FormTypeMain, FormTypeQuickCreate, FormTypeQuickView:
		return true
	}
	return false
}

// Permission names a capability a subject may hold within a tenant.
type Permission string

const (
	PermissionMetadataEntityCreate Permission = "metadata.entity.create"
	PermissionMetadataEntityRead   Permission = "metadata.entity.read"
	PermissionMetadataFieldWrite   Permission = "metadata.field.write"
	PermissionMetadataFieldRead    Permission = "metadata.field.read"
	PermissionRuntimeRecordRead    Permission = "runtime.record.read"
	PermissionRuntimeRecordWrite   Permission = "runtime.record.write"
	PermissionSecurityRoleManage   Permission = "security.role.manage"
)

// ValidPermissions lists every grantable permission.
var ValidPermissions = []Permission{
	PermissionMetadataEntityCreate,
	PermissionMetadataEntityRead,
	PermissionMetadataFieldWrite,
	PermissionMetadataFieldRead,
	PermissionRuntimeRecordRead,
	PermissionRuntimeRecordWrite,
	PermissionSecurityRoleManage,
}

// OwnershipScope narrows a subject's runtime reads and writes.
type OwnershipScope string

const (
	// OwnershipScopeAll places no ownership constraint on the subject.
	OwnershipScopeAll OwnershipScope = "All"
	// OwnershipScopeOwn restricts the subject to records it owns.
	OwnershipScopeOwn OwnershipScope = "Own"
)

// TriggerType tags the closed set of workflow trigger variants. The tag is
// stored inside the workflow definition document and indexed by dispatch
// lookups.
type TriggerType string

const (
	// TriggerManual starts runs only through an explicit invocation.
	TriggerManual TriggerType = "manual"
	// TriggerRuntimeRecordCreated starts a run whenever a runtime record of
	// the trigger's entity is created.
	TriggerRuntimeRecordCreated TriggerType = "runtime_record_created"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning      RunStatus = "running"
	RunStatusSucceeded    RunStatus = "succeeded"
	RunStatusDeadLettered RunStatus = "dead_lettered"
)

// AttemptStatus is the outcome of a single run attempt.
type AttemptStatus string

const (
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	AttemptStatusFailed    AttemptStatus = "failed"
)

// JobStatus is the queue state of a workflow execution job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusLeased    JobStatus = "leased"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)
