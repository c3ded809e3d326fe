// Package models holds the row types for every table of the record platform.
package models

import (
	"time"

	"github.com/recordum/recordum/pkg/types"
)

/*
  Table "public.tenants"
   Column   |           Type           | Nullable | Default
------------+--------------------------+----------+---------
 tenant_id  | character varying(64)    | not null |
 name       | character varying(256)   | not null |
 created_at | timestamp with time zone | not null | now()
Indexes:
    "tenants_pkey" PRIMARY KEY, btree (tenant_id)
*/

type Tenant struct {
	TenantID  types.TenantId `db:"tenant_id"`
	Name      string         `db:"name"`
	CreatedAt time.Time      `db:"created_at"`
}
